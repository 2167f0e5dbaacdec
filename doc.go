// Package volstream receives volumetric (color plus depth) video streams
// from remote capture devices over UDP.
//
// A sender splits every frame into fragments with XOR parity, and streams
// them together with Opus audio and a floor plane estimate. The receiver
// initiates each session, keeps it alive with heartbeats, reassembles and
// decodes the frames, reports its decode performance back to the sender and
// hands the newest frame to a renderer.
//
// # Getting Started
//
// Create a Viewer, connect to one or more senders and run the tick loop:
//
//	options := volstream.NewOptions()
//	options.Renderer = av.RendererFunc(func(frame *av.DecodedFrame) {
//	    // upload frame.Color and frame.Depth
//	})
//
//	viewer, err := volstream.New(options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer viewer.Kill()
//
//	viewer.OnSessionConfirmed(func(info av.SessionInfo) {
//	    // allocate rendering resources, then
//	    viewer.MarkPrepared(info.ReceiverSessionID)
//	})
//
//	if _, err := viewer.Connect("192.168.0.20:47498"); err != nil {
//	    log.Fatal(err)
//	}
//
//	for viewer.IsRunning() {
//	    viewer.Iterate()
//	    time.Sleep(viewer.IterationInterval())
//	}
//
// # Configuration
//
// Options can be loaded from a TOML file with LoadOptions. Durations are
// written as strings:
//
//	listen_address = ":0"
//	senders = ["192.168.0.20:47498"]
//	connect_interval = "300ms"
//	session_timeout = "5s"
//
// # Threading
//
// Iterate does all network and decode work on the caller's goroutine. The
// renderer of each session runs on a goroutine of its own and is fed through
// a bounded queue that never blocks Iterate. A Renderer shared between
// sessions must be safe for concurrent use. Callbacks run on the goroutine
// calling Iterate after the tick has finished, so they may call back into
// the Viewer.
package volstream
