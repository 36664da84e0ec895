package protocol

import (
	"fmt"
	"strings"
)

// MessageStatus is the state of a message in a gateway's outbox or inbox.
// Values match the on-chain enum order.
type MessageStatus uint8

const (
	Undeclared MessageStatus = iota
	Declared
	Progressed
	RevocationDeclared
	Revoked
)

var statusNames = [...]string{
	Undeclared:         "undeclared",
	Declared:           "declared",
	Progressed:         "progressed",
	RevocationDeclared: "revocation_declared",
	Revoked:            "revoked",
}

func (s MessageStatus) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Valid reports whether s is one of the known statuses.
func (s MessageStatus) Valid() bool {
	return int(s) < len(statusNames)
}

// IsTerminal reports whether no further transition is possible.
func (s MessageStatus) IsTerminal() bool {
	return s == Progressed || s == Revoked
}

// ParseMessageStatus accepts the names produced by String.
func ParseMessageStatus(name string) (MessageStatus, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range statusNames {
		if n == name {
			return MessageStatus(i), nil
		}
	}
	return 0, fmt.Errorf("unknown message status %q", name)
}

func (s MessageStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid message status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *MessageStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseMessageStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Box selects which status mapping of a gateway is meant.
type Box int

const (
	Outbox Box = iota // declaring side
	Inbox             // confirming side
)

func (b Box) String() string {
	if b == Inbox {
		return "inbox"
	}
	return "outbox"
}

// Side identifies one of the two ledgers.
type Side int

const (
	Origin Side = iota
	Auxiliary
)

func (s Side) String() string {
	if s == Auxiliary {
		return "auxiliary"
	}
	return "origin"
}

// Other returns the counterpart ledger.
func (s Side) Other() Side {
	if s == Origin {
		return Auxiliary
	}
	return Origin
}

// IntentKind distinguishes stake messages (declared on origin) from redeem
// messages (declared on auxiliary).
type IntentKind int

const (
	StakeIntent IntentKind = iota
	RedeemIntent
)

func (k IntentKind) String() string {
	if k == RedeemIntent {
		return "redeem"
	}
	return "stake"
}

// SourceSide is the ledger whose outbox declares messages of this kind.
func (k IntentKind) SourceSide() Side {
	if k == RedeemIntent {
		return Auxiliary
	}
	return Origin
}

// Token names the EIP20 contracts a gateway moves.
type Token int

const (
	// ValueToken is escrowed by the origin gateway on stake.
	ValueToken Token = iota
	// BaseToken pays the facilitator bounty on origin.
	BaseToken
	// UtilityToken is minted and burned by the auxiliary co-gateway.
	UtilityToken
)

func (t Token) String() string {
	switch t {
	case BaseToken:
		return "base"
	case UtilityToken:
		return "utility"
	default:
		return "value"
	}
}
