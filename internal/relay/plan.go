package relay

import (
	"github.com/KafClaw/threadrelay/internal/audit"
	"github.com/KafClaw/threadrelay/internal/routing"
)

// Plan is the fan-out decided for one classified reply.
type Plan struct {
	Side audit.Side
	// Source is the thread the reply was posted in; it never appears in
	// Targets.
	Source  routing.ThreadRef
	Targets []routing.ThreadRef
}

// PlanFanOut classifies a reply posted in source against rec and lists the
// threads it must be copied to, in stored delivery order.
//
// A reply in the origin conversation goes to every derived thread. A reply
// in a derived thread goes to every other derived thread and then back into
// the origin thread.
func PlanFanOut(rec *routing.Record, source routing.ThreadRef) Plan {
	origin := routing.ThreadRef{Channel: rec.OriginChannel, TS: rec.OriginKey}
	if source == origin {
		p := Plan{Side: audit.SideOrigin, Source: source}
		for _, d := range rec.Deliveries {
			p.Targets = append(p.Targets, d.Thread)
		}
		return p
	}

	p := Plan{Side: audit.SideDerivative, Source: source}
	for _, d := range rec.Deliveries {
		if d.Thread == source {
			continue
		}
		p.Targets = append(p.Targets, d.Thread)
	}
	p.Targets = append(p.Targets, origin)
	return p
}
