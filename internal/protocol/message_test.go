package protocol

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func testMessage() *Message {
	return &Message{
		Intent:      StakeIntent,
		Sender:      common.HexToAddress("0x00000000000000000000000000000000000000a1"),
		Nonce:       big.NewInt(1),
		Amount:      big.NewInt(1000000000000),
		Beneficiary: common.HexToAddress("0x00000000000000000000000000000000000000b2"),
		Gateway:     common.HexToAddress("0x00000000000000000000000000000000000000c3"),
		GasPrice:    big.NewInt(5),
		GasLimit:    big.NewInt(150000000),
		HashLock:    LockFor(common.HexToHash("0x01")),
	}
}

func pad(b []byte) []byte { return common.LeftPadBytes(b, 32) }

// TestMessageHashLayout recomputes the hash from raw 32-byte words.
func TestMessageHashLayout(t *testing.T) {
	m := testMessage()

	intent := crypto.Keccak256Hash(
		crypto.Keccak256([]byte("StakeIntent(uint256 amount,address beneficiary,address gateway)")),
		pad(m.Amount.Bytes()),
		pad(m.Beneficiary.Bytes()),
		pad(m.Gateway.Bytes()),
	)
	require.Equal(t, intent, m.IntentHash())

	want := crypto.Keccak256Hash(
		crypto.Keccak256([]byte("Message(bytes32 intentHash,uint256 nonce,uint256 gasPrice,uint256 gasLimit,address sender,bytes32 hashLock)")),
		intent.Bytes(),
		pad(m.Nonce.Bytes()),
		pad(m.GasPrice.Bytes()),
		pad(m.GasLimit.Bytes()),
		pad(m.Sender.Bytes()),
		m.HashLock.Bytes(),
	)
	require.Equal(t, want, m.Hash())
}

// TestMessageHashDeterministic verifies repeated hashing and copies agree.
func TestMessageHashDeterministic(t *testing.T) {
	m := testMessage()
	require.Equal(t, m.Hash(), m.Hash())
	require.Equal(t, m.Hash(), m.Copy().Hash())
}

// TestMessageHashFieldSensitivity changes one field at a time.
func TestMessageHashFieldSensitivity(t *testing.T) {
	base := testMessage().Hash()

	tests := []struct {
		name   string
		mutate func(m *Message)
	}{
		{"amount", func(m *Message) { m.Amount = big.NewInt(1000000000001) }},
		{"nonce", func(m *Message) { m.Nonce = big.NewInt(2) }},
		{"beneficiary", func(m *Message) { m.Beneficiary = common.HexToAddress("0xb3") }},
		{"gasPrice", func(m *Message) { m.GasPrice = big.NewInt(6) }},
		{"gasLimit", func(m *Message) { m.GasLimit = big.NewInt(150000001) }},
		{"sender", func(m *Message) { m.Sender = common.HexToAddress("0xa2") }},
		{"hashLock", func(m *Message) { m.HashLock = LockFor(common.HexToHash("0x02")) }},
		{"gateway", func(m *Message) { m.Gateway = common.HexToAddress("0xc4") }},
		{"intent", func(m *Message) { m.Intent = RedeemIntent }},
	}

	seen := map[common.Hash]string{base: "base"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testMessage()
			tt.mutate(m)
			h := m.Hash()
			prev, dup := seen[h]
			require.False(t, dup, "hash collides with %s", prev)
			seen[h] = tt.name
		})
	}
}

// TestMessageCopyIndependent verifies Copy does not alias big integers.
func TestMessageCopyIndependent(t *testing.T) {
	m := testMessage()
	cp := m.Copy()
	cp.Amount.SetInt64(7)
	require.Equal(t, int64(1000000000000), m.Amount.Int64())
	require.Nil(t, (*Message)(nil).Copy())
}

func TestMessageReward(t *testing.T) {
	m := testMessage()
	require.Equal(t, big.NewInt(750000000), m.Reward())

	m.Amount = big.NewInt(100)
	require.Equal(t, big.NewInt(100), m.Reward())
}

// TestMessageSlot checks the mapping slot derivation.
func TestMessageSlot(t *testing.T) {
	hash := common.HexToHash("0xabcdef")
	want := crypto.Keccak256Hash(hash.Bytes(), pad([]byte{7}))
	require.Equal(t, want, MessageSlot(hash, 7))
	require.NotEqual(t, MessageSlot(hash, 7), MessageSlot(hash, 8))
}
