package orchestrator

import (
	"fmt"
	"strconv"
	"time"

	"github.com/voiceagent/broker/internal/media"
)

// supportedCodecs lists the codecs this broker can terminate, in
// preference order. Limited to the encodings ASP's capabilities declare
// (mulaw, alaw): the AI Session Server never sees RTP directly, so any
// codec accepted here must have a matching AudioConfig.Encoding.
var supportedCodecs = []string{"PCMU", "PCMA"}

// audioEncodingForCodec maps an RTP codec name to the ASP AudioConfig
// encoding carrying its samples over the websocket.
func audioEncodingForCodec(name string) string {
	switch name {
	case "PCMU":
		return "mulaw"
	case "PCMA":
		return "alaw"
	default:
		return "pcm_s16le"
	}
}

// selectCodec picks the best codec this broker and the caller's offer both
// support, or nil if there is no overlap.
func selectCodec(m *media.MediaDescription) *media.Codec {
	for _, name := range supportedCodecs {
		if c := m.CodecByName(name); c != nil {
			return c
		}
	}
	return nil
}

// buildAnswerSDP constructs the SDP answer for an accepted INVITE: a single
// audio media section on localPort, offering only the negotiated codec,
// per RFC 3264 answer rules.
func buildAnswerSDP(offer *media.SessionDescription, offerMedia *media.MediaDescription, codec *media.Codec, localIP string, localPort int) *media.SessionDescription {
	sessionID := strconv.FormatInt(time.Now().Unix(), 10)

	answer := &media.SessionDescription{
		Version: 0,
		Origin: media.Origin{
			Username:       "-",
			SessionID:      sessionID,
			SessionVersion: sessionID,
			NetType:        "IN",
			AddrType:       "IP4",
			Address:        localIP,
		},
		SessionName: "voiceagent-broker",
		Connection: &media.Connection{
			NetType:  "IN",
			AddrType: "IP4",
			Address:  localIP,
		},
		Time: "0 0",
		Media: []media.MediaDescription{
			{
				Type:    "audio",
				Port:    localPort,
				Proto:   offerMedia.Proto,
				Formats: []int{codec.PayloadType},
				Attributes: []string{
					fmt.Sprintf("rtpmap:%d", codec.PayloadType) + codecRtpmapSuffix(codec),
					"sendrecv",
				},
			},
		},
	}
	return answer
}

func codecRtpmapSuffix(codec *media.Codec) string {
	suffix := fmt.Sprintf(" %s/%d", codec.Name, codec.ClockRate)
	if codec.Channels > 1 {
		suffix += fmt.Sprintf("/%d", codec.Channels)
	}
	return suffix
}
