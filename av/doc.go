// Package av implements the receiving side of volumetric video sessions:
// the handshake and liveness of each remote sender, and the decode, report
// and render path of its frames.
//
// # Sessions
//
// A Registry holds one record per sender, keyed by the session ID this
// receiver chose. Each record moves through
//
//	Unprepared --Confirm--> Preparing --MarkPrepared--> Prepared
//
// BeginConnection sends the first Connect packet; Tick sends the remaining
// retries at a fixed interval and drops the session once the retry budget is
// spent. After the Confirm, Tick sends Heartbeats and ends the session when
// nothing arrived within the timeout. Every ended session is returned from
// Tick exactly once.
//
// # Media path
//
// A Receiver per confirmed session feeds the session's Video and FEC packets
// to a video.Assembler, decodes every selected frame through a Pipeline,
// sends a Report packet for the last one and passes only that last frame to
// a Handoff. The Handoff runs the Renderer on its own goroutine so a slow
// renderer never stalls the tick:
//
//	registry, _ := av.NewRegistry(tr, av.DefaultRegistryConfig())
//	id, _ := registry.BeginConnection(senderAddr)
//	...
//	for _, info := range registry.HandleConfirm(collection.ConfirmInfos) {
//		receiver, _ := av.NewReceiver(info, tr, config)
//		...
//	}
//
// Decode errors skip the frame but keep the session alive.
package av
