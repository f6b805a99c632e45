package transport

// Telnet command bytes (RFC 854).
const (
	iacSE   byte = 240
	iacSB   byte = 250
	iacWILL byte = 251
	iacWONT byte = 252
	iacDO   byte = 253
	iacDONT byte = 254
	iacIAC  byte = 255
)

type iacState int

const (
	iacData iacState = iota
	iacCommand
	iacOption
	iacSubneg
	iacSubnegIAC
)

// iacDecoder strips telnet commands from the byte stream and refuses every
// option the peer offers or requests. It keeps state across reads.
type iacDecoder struct {
	state iacState
	verb  byte
}

func (d *iacDecoder) decode(raw []byte) (data, reply []byte) {
	data = make([]byte, 0, len(raw))

	for _, b := range raw {
		switch d.state {
		case iacData:
			switch b {
			case iacIAC:
				d.state = iacCommand
			case 0:
				// NUL padding after CR
			default:
				data = append(data, b)
			}

		case iacCommand:
			switch b {
			case iacIAC:
				data = append(data, iacIAC)
				d.state = iacData
			case iacDO, iacDONT, iacWILL, iacWONT:
				d.verb = b
				d.state = iacOption
			case iacSB:
				d.state = iacSubneg
			default:
				d.state = iacData
			}

		case iacOption:
			switch d.verb {
			case iacDO:
				reply = append(reply, iacIAC, iacWONT, b)
			case iacWILL:
				reply = append(reply, iacIAC, iacDONT, b)
			}
			d.state = iacData

		case iacSubneg:
			if b == iacIAC {
				d.state = iacSubnegIAC
			}

		case iacSubnegIAC:
			if b == iacSE {
				d.state = iacData
			} else {
				d.state = iacSubneg
			}
		}
	}

	return data, reply
}
