package transfer

import "github.com/pion/webrtc/v3"

const (
	// ChannelLabel names the data channel the initiator opens.
	ChannelLabel = "peerdrop"
	// ChannelProtocol is the data channel subprotocol.
	ChannelProtocol = "file-transfer"
)

// ICEConfig builds a peer connection configuration from STUN/TURN URLs.
func ICEConfig(servers []string) webrtc.Configuration {
	iceServers := make([]webrtc.ICEServer, 0, len(servers))
	for _, server := range servers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{server}})
	}

	return webrtc.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: webrtc.ICETransportPolicyAll,
	}
}

// DataChannelConfig is a reliable, ordered channel.
func DataChannelConfig() *webrtc.DataChannelInit {
	protocolName := ChannelProtocol
	ordered := true
	return &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: nil,
		Protocol:       &protocolName,
	}
}
