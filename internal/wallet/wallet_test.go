package wallet

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/dapp_gateway/internal/dapp"
)

const (
	testAccount   = "0xCF130b42Ae33C5531277B4B7c0F1D994B8732957"
	otherAccount  = "0xf077b491b355E64048cE21E3A6Fc4751eEeA77fa"
	testnetID     = "0x000000000b2bce3c70bc649a02749e8687721b09ed2e15997f466536b20bb127"
	mainnetID     = "0x00000000851caf3cfdb6e899cf5958bfb1ac3413d346d43539627e6be7ec1b4a"
	observedAlias = "watched"
)

func newTestState(t *testing.T) *State {
	t.Helper()
	s, err := NewState(
		[]Network{{Name: "test", GenesisID: testnetID}, {Name: "main", GenesisID: mainnetID}},
		[]Account{{Address: testAccount}, {Address: otherAccount, Alias: observedAlias, Observed: true}},
	)
	require.NoError(t, err)
	return s
}

func TestAddressHelpers(t *testing.T) {
	assert.True(t, IsAddress(testAccount))
	assert.False(t, IsAddress("0x1234"))
	sum := Checksum("0xcf130b42ae33c5531277b4b7c0f1d994b8732957")
	assert.True(t, strings.EqualFold(testAccount, sum))
	assert.Equal(t, sum, Checksum(strings.ToUpper(sum[:2])+strings.ToLower(sum[2:])))
	assert.Equal(t, "nope", Checksum("nope"))
	assert.True(t, SameAddress(testAccount, "0xcf130b42ae33c5531277b4b7c0f1d994b8732957"))
	assert.False(t, SameAddress("", ""))
	assert.True(t, IsZeroAddress(ZeroAddress))
	assert.True(t, IsZeroAddress(""))
	assert.False(t, IsZeroAddress(testAccount))
}

func TestStateSelection(t *testing.T) {
	s := newTestState(t)

	_, ok := s.ActiveAccount()
	assert.False(t, ok)
	assert.Equal(t, testnetID, s.ActiveNetwork().GenesisID)

	require.NoError(t, s.SelectAccount("0xcf130b42ae33c5531277b4b7c0f1d994b8732957"))
	active, ok := s.ActiveAccount()
	require.True(t, ok)
	assert.True(t, SameAddress(testAccount, active.Address))
	assert.Equal(t, Checksum(testAccount), active.Address)

	require.NoError(t, s.SelectNetwork(mainnetID))
	assert.Equal(t, "main", s.ActiveNetwork().Name)

	assert.ErrorIs(t, s.SelectAccount("0x0000000000000000000000000000000000000001"), ErrAccountNotFound)
	assert.ErrorIs(t, s.SelectNetwork("0xdead"), ErrNetworkNotFound)
}

func TestStateRemoveAccount(t *testing.T) {
	s := newTestState(t)
	require.NoError(t, s.SelectAccount(testAccount))

	require.NoError(t, s.RemoveAccount(testAccount))
	_, ok := s.ActiveAccount()
	assert.False(t, ok)
	assert.Len(t, s.Accounts(), 1)
	assert.ErrorIs(t, s.RemoveAccount(testAccount), ErrAccountNotFound)
}

func TestNewStateRequiresNetwork(t *testing.T) {
	_, err := NewState(nil, nil)
	assert.Error(t, err)
}

func TestCertificateEncode(t *testing.T) {
	cert := NewCertificate(dapp.CertMessage{
		Purpose: "identification",
		Payload: dapp.CertContent{Type: "text", Content: "login <as> " + testAccount},
	}, "vechain.org", testAccount, 1700000000)

	encoded, err := cert.Encode()
	require.NoError(t, err)
	assert.Equal(t,
		`{"domain":"vechain.org","payload":{"content":"login <as> `+testAccount+`","type":"text"},"purpose":"identification","signer":"0xcf130b42ae33c5531277b4b7c0f1d994b8732957","timestamp":1700000000}`,
		string(encoded))

	digest, err := cert.Digest()
	require.NoError(t, err)
	assert.Len(t, digest, 32)

	again, err := cert.Digest()
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(digest), hex.EncodeToString(again))

	assert.Equal(t, Annex{Domain: "vechain.org", Timestamp: 1700000000, Signer: strings.ToLower(testAccount)}, cert.Annex())
}
