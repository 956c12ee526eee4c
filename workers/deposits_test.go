package workers

import (
	"errors"
	"math/big"
	"testing"

	"anchorebridge/types"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func depositReceipt(t *testing.T, block uint64) *ethtypes.Receipt {
	t.Helper()
	l := depositLog(t, block, 5)
	foreign := l
	foreign.Address = common.HexToAddress("0x2222222222222222222222222222222222222222")
	return &ethtypes.Receipt{
		Status:      ethtypes.ReceiptStatusSuccessful,
		TxHash:      l.TxHash,
		BlockNumber: new(big.Int).SetUint64(block),
		Logs:        []*ethtypes.Log{&l, &foreign},
	}
}

func TestReceiptDepositsRequireConfirmations(t *testing.T) {
	rd := ReceiptDeposits{ChainID: testChainID, Vault: testVault, MinConfirmations: 12}

	_, err := rd.finalDeposits(depositReceipt(t, 95), 100)
	assert.True(t, errors.Is(err, types.ErrNotFinal))
	_, err = rd.finalDeposits(depositReceipt(t, 5), 10)
	assert.True(t, errors.Is(err, types.ErrNotFinal))

	reqs, err := rd.finalDeposits(depositReceipt(t, 88), 100)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, "5", reqs[0].NonceKey())
}

func TestReceiptDepositsSkipsRevertedTx(t *testing.T) {
	rd := ReceiptDeposits{ChainID: testChainID, Vault: testVault}
	receipt := depositReceipt(t, 10)
	receipt.Status = ethtypes.ReceiptStatusFailed

	reqs, err := rd.finalDeposits(receipt, 10)
	require.NoError(t, err)
	assert.Empty(t, reqs)

	receipt.Status = ethtypes.ReceiptStatusSuccessful
	reqs, err = rd.finalDeposits(receipt, 10)
	require.NoError(t, err)
	assert.Len(t, reqs, 1)
}
