package ledger

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/sharding-experiment/facilitator/internal/protocol"
)

// GatewayABIJSON is the origin gateway surface the facilitator uses.
const GatewayABIJSON = `[
{"type":"function","name":"stake","stateMutability":"nonpayable","inputs":[{"name":"_amount","type":"uint256"},{"name":"_beneficiary","type":"address"},{"name":"_gasPrice","type":"uint256"},{"name":"_gasLimit","type":"uint256"},{"name":"_nonce","type":"uint256"},{"name":"_hashLock","type":"bytes32"}],"outputs":[{"name":"messageHash_","type":"bytes32"}]},
{"type":"function","name":"progressStake","stateMutability":"nonpayable","inputs":[{"name":"_messageHash","type":"bytes32"},{"name":"_unlockSecret","type":"bytes32"}],"outputs":[{"name":"staker_","type":"address"},{"name":"stakeAmount_","type":"uint256"}]},
{"type":"function","name":"confirmRedeemIntent","stateMutability":"nonpayable","inputs":[{"name":"_redeemer","type":"address"},{"name":"_redeemerNonce","type":"uint256"},{"name":"_beneficiary","type":"address"},{"name":"_amount","type":"uint256"},{"name":"_gasPrice","type":"uint256"},{"name":"_gasLimit","type":"uint256"},{"name":"_blockHeight","type":"uint256"},{"name":"_hashLock","type":"bytes32"},{"name":"_storageProof","type":"bytes"}],"outputs":[{"name":"messageHash_","type":"bytes32"}]},
{"type":"function","name":"progressUnstake","stateMutability":"nonpayable","inputs":[{"name":"_messageHash","type":"bytes32"},{"name":"_unlockSecret","type":"bytes32"}],"outputs":[{"name":"redeemAmount_","type":"uint256"},{"name":"unstakeAmount_","type":"uint256"},{"name":"rewardAmount_","type":"uint256"}]},
{"type":"function","name":"proveGateway","stateMutability":"nonpayable","inputs":[{"name":"_blockHeight","type":"uint256"},{"name":"_rlpAccount","type":"bytes"},{"name":"_rlpParentNodes","type":"bytes"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"getNonce","stateMutability":"view","inputs":[{"name":"_account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"bounty","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"token","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
{"type":"function","name":"baseToken","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
{"type":"function","name":"getOutboxMessageStatus","stateMutability":"view","inputs":[{"name":"_messageHash","type":"bytes32"}],"outputs":[{"name":"status_","type":"uint8"}]},
{"type":"function","name":"getInboxMessageStatus","stateMutability":"view","inputs":[{"name":"_messageHash","type":"bytes32"}],"outputs":[{"name":"status_","type":"uint8"}]},
{"type":"event","name":"StakeIntentDeclared","anonymous":false,"inputs":[{"name":"_messageHash","type":"bytes32","indexed":true},{"name":"_staker","type":"address","indexed":false},{"name":"_stakerNonce","type":"uint256","indexed":false},{"name":"_beneficiary","type":"address","indexed":false},{"name":"_amount","type":"uint256","indexed":false}]}
]`

// CoGatewayABIJSON is the auxiliary co-gateway surface.
const CoGatewayABIJSON = `[
{"type":"function","name":"redeem","stateMutability":"payable","inputs":[{"name":"_amount","type":"uint256"},{"name":"_beneficiary","type":"address"},{"name":"_gasPrice","type":"uint256"},{"name":"_gasLimit","type":"uint256"},{"name":"_nonce","type":"uint256"},{"name":"_hashLock","type":"bytes32"}],"outputs":[{"name":"messageHash_","type":"bytes32"}]},
{"type":"function","name":"progressRedeem","stateMutability":"nonpayable","inputs":[{"name":"_messageHash","type":"bytes32"},{"name":"_unlockSecret","type":"bytes32"}],"outputs":[{"name":"redeemer_","type":"address"},{"name":"redeemAmount_","type":"uint256"}]},
{"type":"function","name":"confirmStakeIntent","stateMutability":"nonpayable","inputs":[{"name":"_staker","type":"address"},{"name":"_stakerNonce","type":"uint256"},{"name":"_beneficiary","type":"address"},{"name":"_amount","type":"uint256"},{"name":"_gasPrice","type":"uint256"},{"name":"_gasLimit","type":"uint256"},{"name":"_hashLock","type":"bytes32"},{"name":"_blockHeight","type":"uint256"},{"name":"_rlpParentNodes","type":"bytes"}],"outputs":[{"name":"messageHash_","type":"bytes32"}]},
{"type":"function","name":"progressMint","stateMutability":"nonpayable","inputs":[{"name":"_messageHash","type":"bytes32"},{"name":"_unlockSecret","type":"bytes32"}],"outputs":[{"name":"beneficiary_","type":"address"},{"name":"stakeAmount_","type":"uint256"},{"name":"mintedAmount_","type":"uint256"},{"name":"rewardAmount_","type":"uint256"}]},
{"type":"function","name":"proveGateway","stateMutability":"nonpayable","inputs":[{"name":"_blockHeight","type":"uint256"},{"name":"_rlpAccount","type":"bytes"},{"name":"_rlpParentNodes","type":"bytes"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"getNonce","stateMutability":"view","inputs":[{"name":"_account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"bounty","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"utilityToken","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
{"type":"function","name":"getOutboxMessageStatus","stateMutability":"view","inputs":[{"name":"_messageHash","type":"bytes32"}],"outputs":[{"name":"status_","type":"uint8"}]},
{"type":"function","name":"getInboxMessageStatus","stateMutability":"view","inputs":[{"name":"_messageHash","type":"bytes32"}],"outputs":[{"name":"status_","type":"uint8"}]},
{"type":"event","name":"RedeemIntentDeclared","anonymous":false,"inputs":[{"name":"_messageHash","type":"bytes32","indexed":true},{"name":"_redeemer","type":"address","indexed":false},{"name":"_redeemerNonce","type":"uint256","indexed":false},{"name":"_beneficiary","type":"address","indexed":false},{"name":"_amount","type":"uint256","indexed":false}]}
]`

// EIP20ABIJSON covers allowance handling.
const EIP20ABIJSON = `[
{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"_owner","type":"address"},{"name":"_spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"_spender","type":"address"},{"name":"_value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"_owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

var (
	GatewayABI   = mustParse("gateway", GatewayABIJSON)
	CoGatewayABI = mustParse("co-gateway", CoGatewayABIJSON)
	EIP20ABI     = mustParse("eip20", EIP20ABIJSON)
)

func mustParse(name, def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("%s abi: %v", name, err))
	}
	return parsed
}

// ContractABI returns the ABI of the gateway contract deployed on side.
func ContractABI(side protocol.Side) abi.ABI {
	if side == protocol.Auxiliary {
		return CoGatewayABI
	}
	return GatewayABI
}

// DeclaredEvent is the topic emitted when a message of intent is declared.
func DeclaredEvent(intent protocol.IntentKind) common.Hash {
	if intent == protocol.RedeemIntent {
		return CoGatewayABI.Events["RedeemIntentDeclared"].ID
	}
	return GatewayABI.Events["StakeIntentDeclared"].ID
}

// DeclaredMessageHash extracts the message hash the ledger declared from a
// stake or redeem receipt.
func DeclaredMessageHash(receipt *protocol.Receipt, gateway common.Address, intent protocol.IntentKind) (common.Hash, bool) {
	if receipt == nil {
		return common.Hash{}, false
	}
	topic := DeclaredEvent(intent)
	for _, l := range receipt.Logs {
		if l == nil || l.Address != gateway || len(l.Topics) < 2 || l.Topics[0] != topic {
			continue
		}
		return l.Topics[1], true
	}
	return common.Hash{}, false
}

// ProgressOp names the contract method finalizing box on side.
func ProgressOp(side protocol.Side, box protocol.Box) string {
	switch {
	case side == protocol.Origin && box == protocol.Outbox:
		return "progressStake"
	case side == protocol.Auxiliary && box == protocol.Inbox:
		return "progressMint"
	case side == protocol.Auxiliary && box == protocol.Outbox:
		return "progressRedeem"
	default:
		return "progressUnstake"
	}
}

// ConfirmOp names the intent confirmation method on side.
func ConfirmOp(side protocol.Side) string {
	if side == protocol.Auxiliary {
		return "confirmStakeIntent"
	}
	return "confirmRedeemIntent"
}

// DeclareOp names the declaring method of intent.
func DeclareOp(intent protocol.IntentKind) string {
	if intent == protocol.RedeemIntent {
		return "redeem"
	}
	return "stake"
}

const (
	OpApprove      = "approve"
	OpProveGateway = "proveGateway"
)
