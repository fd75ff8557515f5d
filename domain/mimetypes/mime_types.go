package mimetypes

import (
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

type MIME string

const (
	OctetStream MIME = "application/octet-stream"

	AudioMPEG MIME = "audio/mpeg"
	AudioMP4  MIME = "audio/mp4"
	AudioAAC  MIME = "audio/aac"
	AudioOGG  MIME = "audio/ogg"
	AudioWAV  MIME = "audio/wav"
	AudioWebM MIME = "audio/webm"
	AudioAMR  MIME = "audio/amr"
	AudioFLAC MIME = "audio/flac"
)

// Preferred object key extensions; the detector maps audio/ogg to .oga.
var audioExtensions = map[MIME]string{
	AudioMPEG: ".mp3",
	AudioMP4:  ".m4a",
	AudioAAC:  ".aac",
	AudioOGG:  ".ogg",
	AudioWAV:  ".wav",
	AudioWebM: ".webm",
	AudioAMR:  ".amr",
	AudioFLAC: ".flac",
}

// Resolve picks the content type recorded for an uploaded payload.
// A well-formed declared type wins unless it is the generic octet-stream,
// otherwise the payload's magic bytes decide.
func Resolve(declared string, payload []byte) string {
	if mt, _, err := mime.ParseMediaType(strings.TrimSpace(declared)); err == nil && mt != string(OctetStream) {
		return mt
	}
	mt, _, err := mime.ParseMediaType(mimetype.Detect(payload).String())
	if err != nil {
		return string(OctetStream)
	}
	return mt
}

// IsAudio reports whether contentType belongs to the audio family.
func IsAudio(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && strings.HasPrefix(mt, "audio/")
}

// Extension returns a file extension for contentType, with leading dot.
func Extension(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	if ext, ok := audioExtensions[MIME(mt)]; ok {
		return ext
	}
	if ext := mimetype.Lookup(mt); ext != nil {
		return ext.Extension()
	}
	return ""
}
