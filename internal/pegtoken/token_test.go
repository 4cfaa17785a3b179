package pegtoken

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elys-network/pegvault/internal/types"
	"github.com/elys-network/pegvault/internal/utils"
)

const vaultAddr = "vault"

func shares(n int64) sdkmath.Int {
	return sdkmath.NewInt(n).Mul(utils.Pow10(18))
}

func setupTokenTest(t *testing.T, holders map[string]int64) *Token {
	t.Helper()
	token := New("USD Peg", "USDi", vaultAddr)
	for holder, amount := range holders {
		require.NoError(t, token.MintShares(vaultAddr, holder, shares(amount)))
	}
	return token
}

func sumBalances(token *Token) sdkmath.Int {
	total := sdkmath.ZeroInt()
	for _, holder := range token.Holders() {
		total = total.Add(token.BalanceOf(holder))
	}
	return total
}

// assertConserved checks sum(balances) is within one unit per holder below the total supply.
func assertConserved(t *testing.T, token *Token) {
	t.Helper()
	sum := sumBalances(token)
	assert.True(t, sum.LTE(token.TotalSupply()), "sum %s exceeds supply %s", sum, token.TotalSupply())
	slack := sdkmath.NewInt(int64(len(token.Holders())))
	assert.True(t, token.TotalSupply().Sub(sum).LTE(slack), "sum %s drifts from supply %s", sum, token.TotalSupply())
}

func TestMintAndBurnOnlyByVault(t *testing.T) {
	token := setupTokenTest(t, nil)

	err := token.MintShares("mallory", "mallory", shares(1))
	require.ErrorIs(t, err, types.ErrUnauthorized)

	require.NoError(t, token.MintShares(vaultAddr, "alice", shares(100)))
	assert.Equal(t, shares(100), token.BalanceOf("alice"))
	assert.Equal(t, shares(100), token.TotalSupply())

	err = token.BurnShares("alice", "alice", shares(1))
	require.ErrorIs(t, err, types.ErrUnauthorized)

	err = token.BurnShares(vaultAddr, "alice", shares(101))
	require.ErrorIs(t, err, types.ErrInsufficientBalance)

	require.NoError(t, token.BurnShares(vaultAddr, "alice", shares(40)))
	assert.Equal(t, shares(60), token.BalanceOf("alice"))
	assert.Equal(t, shares(60), token.TotalSupply())
}

func TestChangeSupplyKeepsBalancesConserved(t *testing.T) {
	token := setupTokenTest(t, map[string]int64{"alice": 100, "bob": 250, "carol": 7})

	newSupply := token.TotalSupply().MulRaw(12).QuoRaw(10)
	require.NoError(t, token.ChangeSupply(vaultAddr, newSupply))

	assert.True(t, token.TotalSupply().LTE(newSupply))
	assertConserved(t, token)
	// each holder grew by 20%, rounding down
	assert.True(t, token.BalanceOf("alice").LTE(shares(120)))
	assert.True(t, shares(120).Sub(token.BalanceOf("alice")).LTE(sdkmath.OneInt()))
}

func TestChangeSupplyUnauthorized(t *testing.T) {
	token := setupTokenTest(t, map[string]int64{"alice": 1})
	err := token.ChangeSupply("alice", shares(2))
	require.ErrorIs(t, err, types.ErrUnauthorized)
}

func TestChangeSupplyFailsWhenEveryoneOptedOut(t *testing.T) {
	token := setupTokenTest(t, map[string]int64{"alice": 100, "bob": 100})
	require.NoError(t, token.RebaseOptOut("alice"))
	require.NoError(t, token.RebaseOptOut("bob"))

	err := token.ChangeSupply(vaultAddr, shares(500))
	require.ErrorIs(t, err, types.ErrInvalidSupplyChange)
	assert.Equal(t, shares(200), token.TotalSupply())
}

func TestChangeSupplyOfZeroSupply(t *testing.T) {
	token := setupTokenTest(t, nil)
	err := token.ChangeSupply(vaultAddr, shares(1))
	require.ErrorIs(t, err, types.ErrInvalidSupplyChange)
}

func TestOptedOutBalanceSurvivesRebase(t *testing.T) {
	token := setupTokenTest(t, map[string]int64{"alice": 100, "bob": 100})
	require.NoError(t, token.RebaseOptOut("bob"))
	cptBefore := token.RebasingCreditsPerToken()

	require.NoError(t, token.ChangeSupply(vaultAddr, shares(300)))

	assert.Equal(t, shares(100), token.BalanceOf("bob"))
	assert.NotEqual(t, cptBefore, token.RebasingCreditsPerToken())
	// alice absorbs the entire increase
	assert.True(t, shares(200).Sub(token.BalanceOf("alice")).LTE(sdkmath.OneInt()))
	assertConserved(t, token)
}

func TestOptInPreservesBalance(t *testing.T) {
	token := setupTokenTest(t, map[string]int64{"alice": 100, "bob": 100})
	require.NoError(t, token.RebaseOptOut("bob"))
	require.NoError(t, token.ChangeSupply(vaultAddr, shares(333)))

	require.NoError(t, token.RebaseOptIn("bob"))
	assert.Equal(t, shares(100), token.BalanceOf("bob"))
	assert.False(t, token.IsOptedOut("bob"))
	assert.True(t, token.NonRebasingSupply().IsZero())

	require.ErrorIs(t, token.RebaseOptIn("bob"), types.ErrInvalidRequest)
}

func TestMinterAfterRebaseGetsFewerCredits(t *testing.T) {
	token := setupTokenTest(t, map[string]int64{"alice": 100})
	aliceCredits, _ := token.CreditsBalanceOf("alice")

	require.NoError(t, token.ChangeSupply(vaultAddr, shares(200)))
	require.NoError(t, token.MintShares(vaultAddr, "bob", shares(100)))

	bobCredits, _ := token.CreditsBalanceOf("bob")
	assert.True(t, bobCredits.LT(aliceCredits))
	assert.Equal(t, shares(100), token.BalanceOf("bob"))
}

func TestTransferBetweenRebasingAndOptedOut(t *testing.T) {
	token := setupTokenTest(t, map[string]int64{"alice": 100, "bob": 50})
	require.NoError(t, token.RebaseOptOut("bob"))
	require.NoError(t, token.ChangeSupply(vaultAddr, shares(225)))

	cpt := token.RebasingCreditsPerToken()
	require.NoError(t, token.Transfer("alice", "bob", shares(30)))
	assert.Equal(t, cpt, token.RebasingCreditsPerToken())
	assert.Equal(t, shares(80), token.BalanceOf("bob"))
	assert.Equal(t, shares(80), token.NonRebasingSupply())

	require.NoError(t, token.Transfer("bob", "alice", shares(80)))
	assert.True(t, token.NonRebasingSupply().IsZero())
	assert.True(t, token.BalanceOf("bob").IsZero())
	assertConserved(t, token)
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	token := setupTokenTest(t, map[string]int64{"alice": 100})

	err := token.TransferFrom("bob", "alice", "bob", shares(1))
	require.ErrorIs(t, err, types.ErrInsufficientAllowance)

	require.NoError(t, token.Approve("alice", "bob", shares(10)))
	require.NoError(t, token.IncreaseAllowance("alice", "bob", shares(5)))
	require.NoError(t, token.DecreaseAllowance("alice", "bob", shares(3)))
	assert.Equal(t, shares(12), token.Allowance("alice", "bob"))

	require.NoError(t, token.TransferFrom("bob", "alice", "carol", shares(12)))
	assert.Equal(t, shares(12), token.BalanceOf("carol"))
	assert.True(t, token.Allowance("alice", "bob").IsZero())

	require.ErrorIs(t, token.DecreaseAllowance("alice", "bob", shares(1)), types.ErrInsufficientAllowance)
}

func TestPauseBlocksOperations(t *testing.T) {
	token := setupTokenTest(t, map[string]int64{"alice": 100})
	token.ChangePauseState(true)

	require.ErrorIs(t, token.MintShares(vaultAddr, "alice", shares(1)), types.ErrPaused)
	require.ErrorIs(t, token.BurnShares(vaultAddr, "alice", shares(1)), types.ErrPaused)
	require.ErrorIs(t, token.Transfer("alice", "bob", shares(1)), types.ErrPaused)

	token.ChangePauseState(false)
	require.NoError(t, token.Transfer("alice", "bob", shares(1)))
}

func TestCheckpointRestore(t *testing.T) {
	token := setupTokenTest(t, map[string]int64{"alice": 100})
	restore := token.Checkpoint()

	require.NoError(t, token.MintShares(vaultAddr, "bob", shares(5)))
	require.NoError(t, token.ChangeSupply(vaultAddr, shares(210)))
	require.NoError(t, token.RebaseOptOut("alice"))

	restore()
	assert.Equal(t, shares(100), token.TotalSupply())
	assert.Equal(t, InitialCreditsPerToken, token.RebasingCreditsPerToken())
	assert.True(t, token.BalanceOf("bob").IsZero())
	assert.False(t, token.IsOptedOut("alice"))
}

func TestExportImport(t *testing.T) {
	token := setupTokenTest(t, map[string]int64{"alice": 100, "bob": 40})
	require.NoError(t, token.RebaseOptOut("bob"))
	require.NoError(t, token.RebaseOptOut("contract"))
	require.NoError(t, token.ChangeSupply(vaultAddr, shares(170)))
	require.NoError(t, token.Approve("alice", "carol", shares(3)))

	restored := New("USD Peg", "USDi", vaultAddr)
	require.NoError(t, restored.Import(token.Export()))

	assert.Equal(t, token.TotalSupply(), restored.TotalSupply())
	assert.Equal(t, token.BalanceOf("alice"), restored.BalanceOf("alice"))
	assert.Equal(t, token.BalanceOf("bob"), restored.BalanceOf("bob"))
	assert.True(t, restored.IsOptedOut("contract"))
	assert.Equal(t, shares(3), restored.Allowance("alice", "carol"))

	bad := token.Export()
	bad.RebasingCredits = bad.RebasingCredits.AddRaw(1)
	require.ErrorIs(t, restored.Import(bad), types.ErrInvalidRequest)
}
