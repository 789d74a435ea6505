package gateway

import (
	"strings"

	"cmelive/pkg/types"
)

// handleSignal forwards a negotiation payload to one target connection,
// tagged with the sender's connection id and display name so the target can
// route the reply. The payload itself is opaque; it is never inspected or
// rewritten. A target that has already disconnected is a silent no-op,
// matching the fire-and-forget nature of candidate trickling.
func (g *Gateway) handleSignal(c sender, event string, req signalRequest) error {
	if strings.TrimSpace(req.Target) == "" {
		return types.NewGatewayError(types.KindValidation, "target is required")
	}

	target, ok := g.client(req.Target)
	if !ok {
		return nil
	}

	payload := signalPayload{
		Sender:     c.ID(),
		SenderName: c.User().FullName,
	}
	switch event {
	case EventWebRTCOffer:
		payload.Offer = req.Offer
	case EventWebRTCAnswer:
		payload.Answer = req.Answer
	case EventWebRTCICECandidate:
		payload.Candidate = req.Candidate
	}

	g.send(target, event, payload)
	return nil
}
