package orchestrator

import (
	"net"

	"github.com/emiago/sipgo/sip"
)

// extractCallerInfo pulls the caller-channel header fields the spec needs
// off an inbound INVITE: display name, caller number, dialed number, and
// source address, per flowpbx's invite.go classifyCall field extraction.
func extractCallerInfo(req *sip.Request) CallerInfo {
	info := CallerInfo{
		DialedNumber: req.Recipient.User,
		RemoteAddr:   sourceHost(req),
	}
	if from := req.From(); from != nil {
		info.CallerIDName = from.DisplayName
		info.CallerIDNum = from.Address.User
	}
	// The PBX dialplan sets X-AMI-Channel before routing a call to this
	// extension, so a later AMI Redirect/Hangup can address the same leg.
	if h := req.GetHeader("X-AMI-Channel"); h != nil {
		info.Channel = h.Value()
	}
	return info
}

// sourceHost extracts the IP address (without port) from the request's
// source address.
func sourceHost(req *sip.Request) string {
	source := req.Source()
	host, _, err := net.SplitHostPort(source)
	if err != nil {
		return source
	}
	return host
}
