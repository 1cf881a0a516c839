// Package transcribe turns downloaded episode audio into transcripts by
// running the whisper command-line tool.
//
// Whisper writes its JSON result into a private working directory. The
// detailed JSON is written beside the transcript first and the plain-text
// transcript is published last, so the transcript's presence marks the item
// complete.
package transcribe
