package control

import "strings"

// ParseEvent turns the payload of one async notification line (everything
// after the "650 " prefix) into a typed event. Lines that are not circuit or
// stream notifications, or are too short to classify, come back as
// UnknownEvent; classification never fails hard because unrecognized daemon
// chatter is not an error.
func ParseEvent(raw string) Event {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return UnknownEvent{Raw: raw}
	}
	switch fields[0] {
	case "CIRC":
		if len(fields) < 3 {
			return UnknownEvent{Kind: fields[0], Raw: raw}
		}
		return parseCircuitEvent(fields)
	case "STREAM":
		if len(fields) < 3 {
			return UnknownEvent{Kind: fields[0], Raw: raw}
		}
		return parseStreamEvent(fields)
	default:
		return UnknownEvent{Kind: fields[0], Raw: raw}
	}
}

// parseCircuitEvent handles lines of the form:
//
//	CIRC <id> <status> [<path>] [K=V ...]
//
// where path is $FPR~nick,$FPR~nick,... and REASON=<why> accompanies
// FAILED/CLOSED.
func parseCircuitEvent(fields []string) CircuitEvent {
	ev := CircuitEvent{
		ID:     fields[1],
		Status: CircuitStatus(fields[2]),
	}
	for _, f := range fields[3:] {
		switch {
		case strings.HasPrefix(f, "$"):
			ev.Path = parsePath(f)
		case strings.HasPrefix(f, "REASON="):
			ev.Reason = strings.TrimPrefix(f, "REASON=")
		case strings.HasPrefix(f, "REMOTE_REASON=") && ev.Reason == "":
			ev.Reason = strings.TrimPrefix(f, "REMOTE_REASON=")
		}
	}
	return ev
}

// parseStreamEvent handles lines of the form:
//
//	STREAM <id> <status> <circ-id> [<target>] [K=V ...]
func parseStreamEvent(fields []string) StreamEvent {
	ev := StreamEvent{
		ID:     fields[1],
		Status: StreamStatus(fields[2]),
	}
	if len(fields) > 3 {
		ev.CircuitID = fields[3]
	}
	if len(fields) > 4 && !strings.Contains(fields[4], "=") {
		ev.Target = fields[4]
	}
	for _, f := range fields[4:] {
		if strings.HasPrefix(f, "SOURCE_ADDR=") {
			ev.SourceAddr = strings.TrimPrefix(f, "SOURCE_ADDR=")
		}
	}
	return ev
}

func parsePath(raw string) []Hop {
	parts := strings.Split(raw, ",")
	hops := make([]Hop, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimPrefix(part, "$")
		if part == "" {
			continue
		}
		hop := Hop{Fingerprint: part}
		// Long names separate fingerprint and nickname with '~' or '='.
		if i := strings.IndexAny(part, "~="); i >= 0 {
			hop.Fingerprint = part[:i]
			hop.Nickname = part[i+1:]
		}
		hops = append(hops, hop)
	}
	return hops
}
