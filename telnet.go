package main

// Telnet command bytes (RFC 854).
const (
	telnetSE   = 240
	telnetGA   = 249
	telnetSB   = 250
	telnetWILL = 251
	telnetWONT = 252
	telnetDO   = 253
	telnetDONT = 254
	telnetIAC  = 255
	telnetEOR  = 239
)

const (
	tnData = iota
	tnIAC
	tnOption
	tnSub
	tnSubIAC
)

// telnetFilter strips telnet negotiation from a byte stream. Every option
// the server offers or requests is refused. GA and EOR mark the end of a
// prompt.
type telnetFilter struct {
	state int
	verb  byte
}

// Filter returns the payload bytes of p, the replies to send back, and the
// payload offsets where a prompt ended.
func (f *telnetFilter) Filter(p []byte) (data, reply []byte, prompts []int) {
	data = make([]byte, 0, len(p))
	for _, b := range p {
		switch f.state {
		case tnData:
			if b == telnetIAC {
				f.state = tnIAC
				continue
			}
			data = append(data, b)
		case tnIAC:
			switch b {
			case telnetIAC:
				data = append(data, telnetIAC)
				f.state = tnData
			case telnetWILL, telnetWONT, telnetDO, telnetDONT:
				f.verb = b
				f.state = tnOption
			case telnetSB:
				f.state = tnSub
			case telnetGA, telnetEOR:
				prompts = append(prompts, len(data))
				f.state = tnData
			default:
				f.state = tnData
			}
		case tnOption:
			switch f.verb {
			case telnetWILL:
				reply = append(reply, telnetIAC, telnetDONT, b)
			case telnetDO:
				reply = append(reply, telnetIAC, telnetWONT, b)
			}
			f.state = tnData
		case tnSub:
			if b == telnetIAC {
				f.state = tnSubIAC
			}
		case tnSubIAC:
			if b == telnetSE {
				f.state = tnData
			} else {
				f.state = tnSub
			}
		}
	}
	return data, reply, prompts
}
