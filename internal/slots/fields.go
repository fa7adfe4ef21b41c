// Package slots holds the partial-transaction record collected across
// conversation turns and the rules for combining and scoring it.
package slots

import "strings"

// Action is a supported DeFi action.
type Action string

const (
	ActionDeposit      Action = "deposit"
	ActionWithdraw     Action = "withdraw"
	ActionSwap         Action = "swap"
	ActionStake        Action = "stake"
	ActionUnstake      Action = "unstake"
	ActionBorrow       Action = "borrow"
	ActionLend         Action = "lend"
	ActionClaimRewards Action = "claim_rewards"
)

// Actions lists every supported action in display order.
var Actions = []Action{
	ActionDeposit,
	ActionWithdraw,
	ActionSwap,
	ActionStake,
	ActionUnstake,
	ActionBorrow,
	ActionLend,
	ActionClaimRewards,
}

// ParseAction maps free text such as "Swap" or "claim rewards" onto an Action.
func ParseAction(s string) (Action, bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, " ", "_")
	norm = strings.ReplaceAll(norm, "-", "_")
	for _, a := range Actions {
		if string(a) == norm {
			return a, true
		}
	}
	return "", false
}

// Field names a slot of a Record.
type Field string

const (
	FieldAction   Field = "action"
	FieldAmount   Field = "amount"
	FieldTokenIn  Field = "token_in"
	FieldTokenOut Field = "token_out"
	FieldProtocol Field = "protocol"
	FieldSlippage Field = "slippage"
	FieldDeadline Field = "deadline"
	FieldGasPrice Field = "gas_price"
)

// OptionalFields never block readiness but count toward completion.
func OptionalFields() []Field {
	return []Field{FieldSlippage, FieldDeadline, FieldGasPrice}
}

// RequiredFields returns the canonical, ordered required-field list for an
// action. A nil action requires only the action itself.
func RequiredFields(action *Action) []Field {
	if action == nil {
		return []Field{FieldAction}
	}
	switch *action {
	case ActionSwap:
		return []Field{FieldAction, FieldAmount, FieldTokenIn, FieldTokenOut, FieldProtocol}
	case ActionDeposit, ActionWithdraw, ActionStake, ActionUnstake, ActionBorrow, ActionLend:
		return []Field{FieldAction, FieldAmount, FieldTokenIn, FieldProtocol}
	case ActionClaimRewards:
		return []Field{FieldAction, FieldProtocol}
	default:
		return []Field{FieldAction}
	}
}

// RelevantFields is the union of the required and optional fields for action.
func RelevantFields(action *Action) []Field {
	return append(RequiredFields(action), OptionalFields()...)
}
