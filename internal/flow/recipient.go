package flow

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Recipient is one payee of a distribution. The resolved address is tied to
// the raw input it was resolved for: editing the input drops it at once.
type Recipient struct {
	input    string
	address  common.Address
	resolved bool
	amount   decimal.Decimal
}

// NewRecipient creates an unresolved recipient.
func NewRecipient(input string, amount decimal.Decimal) Recipient {
	return Recipient{input: strings.TrimSpace(input), amount: amount}
}

// Input returns the raw identifier, either a hex address or a name.
func (r Recipient) Input() string { return r.input }

// Amount returns the payout in units of the settled asset.
func (r Recipient) Amount() decimal.Decimal { return r.amount }

// Address returns the verified address, if resolution succeeded for the
// current input.
func (r Recipient) Address() (common.Address, bool) {
	return r.address, r.resolved
}

// Verified reports whether the recipient carries a resolved address.
func (r Recipient) Verified() bool { return r.resolved }

// WithInput returns a copy carrying a new raw input. Any resolved address
// belonging to the previous input is discarded.
func (r Recipient) WithInput(input string) Recipient {
	input = strings.TrimSpace(input)
	if input == r.input {
		return r
	}
	return Recipient{input: input, amount: r.amount}
}

// WithAmount returns a copy with a new amount; resolution is kept.
func (r Recipient) WithAmount(amount decimal.Decimal) Recipient {
	r.amount = amount
	return r
}

// Resolved attaches addr if forInput is still the current input. A result
// for a stale input is discarded and ok is false.
func (r Recipient) Resolved(forInput string, addr common.Address) (Recipient, bool) {
	if strings.TrimSpace(forInput) != r.input {
		return r, false
	}
	r.address = addr
	r.resolved = true
	return r, true
}

// Unresolved clears the address after a failed lookup for forInput.
func (r Recipient) Unresolved(forInput string) (Recipient, bool) {
	if strings.TrimSpace(forInput) != r.input {
		return r, false
	}
	r.address = common.Address{}
	r.resolved = false
	return r, true
}

func (r Recipient) String() string {
	if r.resolved {
		return fmt.Sprintf("%s(%s)=%s", r.input, r.address.Hex(), r.amount)
	}
	return fmt.Sprintf("%s=%s", r.input, r.amount)
}

type recipientJSON struct {
	RawInput        string          `json:"rawInput"`
	ResolvedAddress *common.Address `json:"resolvedAddress,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
}

// MarshalJSON implements json.Marshaler.
func (r Recipient) MarshalJSON() ([]byte, error) {
	out := recipientJSON{RawInput: r.input, Amount: r.amount}
	if r.resolved {
		addr := r.address
		out.ResolvedAddress = &addr
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler. The editor's field names
// ("input", "address") are accepted as aliases. A decoded address is only a
// claim: it is dropped when it contradicts a hex rawInput, and the engine
// resolves every recipient again before arming.
func (r *Recipient) UnmarshalJSON(data []byte) error {
	var in struct {
		recipientJSON
		Input   string `json:"input"`
		Address string `json:"address"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	raw := in.RawInput
	if raw == "" {
		raw = in.Input
	}
	*r = NewRecipient(raw, in.Amount)

	var claimed *common.Address
	switch {
	case in.ResolvedAddress != nil:
		claimed = in.ResolvedAddress
	case common.IsHexAddress(in.Address):
		addr := common.HexToAddress(in.Address)
		claimed = &addr
	}
	if claimed == nil {
		return nil
	}
	if common.IsHexAddress(r.input) && common.HexToAddress(r.input) != *claimed {
		return nil
	}
	*r, _ = r.Resolved(r.input, *claimed)
	return nil
}
