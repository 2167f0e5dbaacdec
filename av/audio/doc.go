// Package audio decodes the Opus audio that a sender streams next to its
// video frames.
//
// Audio packets carry a per-sender frame ID and one Opus frame. The Receiver
// decodes them in frame ID order, drops frames that are older than the last
// one played, and writes the PCM to a Sink. Playback buffering is the Sink's
// concern.
//
//	receiver := audio.NewReceiver(audio.NewOpusDecoder(), sink)
//	result := receiver.Receive(set.Audio)
//
// OpusDecoder uses the pure Go pion/opus decoder, so no CGo is involved.
package audio
