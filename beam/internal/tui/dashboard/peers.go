package dashboard

import (
	"strings"

	"github.com/token-beam/token-beam/beam/internal/tui"
	"github.com/token-beam/token-beam/pkg/client"
)

type peersModel struct {
	items []client.Peer
}

func (p *peersModel) add(peer client.Peer) {
	for i, existing := range p.items {
		if existing.ClientType == peer.ClientType && existing.Origin == peer.Origin {
			p.items[i] = peer
			return
		}
	}
	p.items = append(p.items, peer)
}

func (p *peersModel) remove(clientType string) {
	kept := p.items[:0]
	for _, peer := range p.items {
		if peer.ClientType != clientType {
			kept = append(kept, peer)
		}
	}
	p.items = kept
}

func (p *peersModel) clear() { p.items = nil }

func (p peersModel) View() string {
	if len(p.items) == 0 {
		return tui.Dimmed.Render("  Peers: none")
	}
	names := make([]string, 0, len(p.items))
	for _, peer := range p.items {
		name := tui.Success.Render(peer.ClientType)
		if peer.Origin != "" {
			name += tui.Dimmed.Render(" (" + peer.Origin + ")")
		}
		names = append(names, name)
	}
	return tui.Dimmed.Render("  Peers: ") + strings.Join(names, tui.Dimmed.Render(", "))
}
