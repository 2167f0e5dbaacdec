// Package video reassembles volumetric video frames received over UDP.
//
// A sender splits every frame into a Message payload:
//
//	[frameTimeStamp f32][colorLen u32][color...][depthLen u32][depth...]
//
// and cuts it into Video fragments, optionally followed by XOR parity (FEC)
// packets that cover groups of consecutive fragments. The Assembler collects
// fragments per frame, restores a single lost fragment per parity group and
// decides which complete frames may be decoded:
//
//   - The most recent keyframe above the rendered watermark starts a run,
//     skipping any gap before it.
//   - Without such a keyframe, only the frame right after the watermark may
//     start a run.
//   - A run continues through consecutive frame IDs and stops at the first gap.
//
// Everything at or below the new watermark is purged after each pass, so a
// frame is never emitted twice and frame IDs never go backwards.
//
// # Decoding
//
// Color and depth payloads are opaque to the assembler. ColorDecoder and
// DepthDecoder are the codec slots; RawColorDecoder (uncompressed I420) and
// DeltaDepthDecoder (keyframe plus per-sample deltas) are simple reference
// implementations. A DepthDecoder is stateful: delta frames need the
// previously decoded frame, so every frame in a run must be decoded in order.
//
// # Example
//
//	asm := video.NewAssembler(video.DefaultMaxInFlightFrames)
//	result := asm.Assemble(set.Video, set.FEC, lastRendered)
//	for _, msg := range result.Frames {
//		depth, err := depthDecoder.Decode(msg.DepthPayload, msg.Keyframe)
//		...
//	}
package video
