package whatsapp

import (
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"

	"github.com/roelfdiedericks/clawrelay/internal/media"
)

// buildMediaMessage creates the proto message for an uploaded attachment.
// Audio carries no caption on WhatsApp.
func buildMediaMessage(m *media.Loaded, resp *whatsmeow.UploadResponse, caption string, ci *waE2E.ContextInfo) *waE2E.Message {
	fileLength := uint64(len(m.Data))
	mimeType := m.MimeType

	switch media.KindFromMIME(mimeType) {
	case media.KindImage:
		return &waE2E.Message{
			ImageMessage: &waE2E.ImageMessage{
				Caption:       proto.String(caption),
				Mimetype:      proto.String(mimeType),
				URL:           &resp.URL,
				DirectPath:    &resp.DirectPath,
				MediaKey:      resp.MediaKey,
				FileEncSHA256: resp.FileEncSHA256,
				FileSHA256:    resp.FileSHA256,
				FileLength:    &fileLength,
				ContextInfo:   ci,
			},
		}
	case media.KindVideo:
		return &waE2E.Message{
			VideoMessage: &waE2E.VideoMessage{
				Caption:       proto.String(caption),
				Mimetype:      proto.String(mimeType),
				URL:           &resp.URL,
				DirectPath:    &resp.DirectPath,
				MediaKey:      resp.MediaKey,
				FileEncSHA256: resp.FileEncSHA256,
				FileSHA256:    resp.FileSHA256,
				FileLength:    &fileLength,
				ContextInfo:   ci,
			},
		}
	case media.KindAudio:
		return &waE2E.Message{
			AudioMessage: &waE2E.AudioMessage{
				Mimetype:      proto.String(mimeType),
				URL:           &resp.URL,
				DirectPath:    &resp.DirectPath,
				MediaKey:      resp.MediaKey,
				FileEncSHA256: resp.FileEncSHA256,
				FileSHA256:    resp.FileSHA256,
				FileLength:    &fileLength,
				ContextInfo:   ci,
			},
		}
	default:
		fileName := m.FileName
		if fileName == "" {
			fileName = "file"
		}
		return &waE2E.Message{
			DocumentMessage: &waE2E.DocumentMessage{
				Caption:       proto.String(caption),
				Mimetype:      proto.String(mimeType),
				FileName:      proto.String(fileName),
				URL:           &resp.URL,
				DirectPath:    &resp.DirectPath,
				MediaKey:      resp.MediaKey,
				FileEncSHA256: resp.FileEncSHA256,
				FileSHA256:    resp.FileSHA256,
				FileLength:    &fileLength,
				ContextInfo:   ci,
			},
		}
	}
}

// mimeToMediaType maps a MIME type to whatsmeow's MediaType for upload
func mimeToMediaType(mimeType string) whatsmeow.MediaType {
	switch media.KindFromMIME(mimeType) {
	case media.KindImage:
		return whatsmeow.MediaImage
	case media.KindVideo:
		return whatsmeow.MediaVideo
	case media.KindAudio:
		return whatsmeow.MediaAudio
	default:
		return whatsmeow.MediaDocument
	}
}
