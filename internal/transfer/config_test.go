package transfer

import (
	"testing"

	"github.com/pion/webrtc/v3"
)

func TestICEConfig(t *testing.T) {
	servers := []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"}
	cfg := ICEConfig(servers)

	if len(cfg.ICEServers) != 2 {
		t.Fatalf("expected 2 ICE server entries, got %d", len(cfg.ICEServers))
	}
	if cfg.ICEServers[1].URLs[0] != servers[1] {
		t.Errorf("expected %q, got %q", servers[1], cfg.ICEServers[1].URLs[0])
	}
	if cfg.ICETransportPolicy != webrtc.ICETransportPolicyAll {
		t.Errorf("expected ICETransportPolicyAll, got %v", cfg.ICETransportPolicy)
	}

	servers[0] = "mutated"
	if cfg.ICEServers[0].URLs[0] == "mutated" {
		t.Error("ICEConfig must copy the server list")
	}
}

func TestICEConfig_NoServers(t *testing.T) {
	if cfg := ICEConfig(nil); len(cfg.ICEServers) != 0 {
		t.Errorf("expected no ICE servers, got %d", len(cfg.ICEServers))
	}
}

func TestDataChannelConfig(t *testing.T) {
	cfg := DataChannelConfig()

	if cfg.Ordered == nil || !*cfg.Ordered {
		t.Error("expected ordered channel")
	}
	if cfg.MaxRetransmits != nil {
		t.Error("expected unlimited retransmits for reliability")
	}
	if cfg.Protocol == nil || *cfg.Protocol != ChannelProtocol {
		t.Errorf("expected protocol %q", ChannelProtocol)
	}
}
