package feed

import (
	"bytes"
	"math/big"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/mbd888/mevguard/internal/risk"
)

// Router methods whose output bound can be read from calldata.
const routerABIJSON = `[
 {"name":"swapExactTokensForTokens","type":"function","inputs":[
  {"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},
  {"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}]},
 {"name":"swapExactTokensForETH","type":"function","inputs":[
  {"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},
  {"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}]},
 {"name":"swapExactETHForTokens","type":"function","inputs":[
  {"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},
  {"name":"to","type":"address"},{"name":"deadline","type":"uint256"}]},
 {"name":"exactInputSingle","type":"function","inputs":[
  {"name":"params","type":"tuple","components":[
   {"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},
   {"name":"fee","type":"uint24"},{"name":"recipient","type":"address"},
   {"name":"deadline","type":"uint256"},{"name":"amountIn","type":"uint256"},
   {"name":"amountOutMinimum","type":"uint256"},{"name":"sqrtPriceLimitX96","type":"uint160"}]}]}
]`

var routerABI = mustParseABI(routerABIJSON)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("feed: invalid router ABI: " + err.Error())
	}
	return parsed
}

// Selectors recognised without argument decoding.
var (
	selMulticall      = []byte{0x5a, 0xe4, 0x01, 0xdc}
	selExecute        = []byte{0x35, 0x93, 0x56, 0x4c}
	selWETHDeposit    = []byte{0xd0, 0xe3, 0x0d, 0xb0}
	selWETHWithdraw   = []byte{0x2e, 0x1a, 0x7d, 0x4d}
	selERC20Transfer  = []byte{0xa9, 0x05, 0x9c, 0xbb}
	selERC20TransferF = []byte{0x23, 0xb8, 0x72, 0xdd}
)

// Decoded is what calldata reveals about a pending transaction.
type Decoded struct {
	Kind         risk.Kind
	MinAmountOut *big.Int // nil when the call carries no output bound
	Method       string
}

// DecodeCalldata classifies calldata by selector. A zero output bound counts
// as unprotected. Unknown selectors decode to an empty kind.
func DecodeCalldata(data []byte) Decoded {
	if len(data) == 0 {
		return Decoded{Kind: risk.KindTransfer}
	}
	if len(data) < 4 {
		return Decoded{}
	}
	sel := data[:4]

	if method, err := routerABI.MethodById(sel); err == nil {
		d := Decoded{Kind: risk.KindSwap, Method: method.Name}
		values := map[string]interface{}{}
		if err := method.Inputs.UnpackIntoMap(values, data[4:]); err != nil {
			return d
		}
		d.MinAmountOut = positive(minOut(values))
		return d
	}

	switch {
	case bytes.Equal(sel, selMulticall):
		return Decoded{Kind: risk.KindSwap, Method: "multicall"}
	case bytes.Equal(sel, selExecute):
		return Decoded{Kind: risk.KindSwap, Method: "execute"}
	case bytes.Equal(sel, selWETHDeposit):
		return Decoded{Kind: risk.KindDeposit, Method: "deposit"}
	case bytes.Equal(sel, selWETHWithdraw):
		return Decoded{Kind: risk.KindWithdraw, Method: "withdraw"}
	case bytes.Equal(sel, selERC20Transfer), bytes.Equal(sel, selERC20TransferF):
		return Decoded{Kind: risk.KindTransfer, Method: "transfer"}
	}
	return Decoded{}
}

func minOut(values map[string]interface{}) *big.Int {
	if v, ok := values["amountOutMin"].(*big.Int); ok {
		return v
	}
	params, ok := values["params"]
	if !ok {
		return nil
	}
	rv := reflect.ValueOf(params)
	if rv.Kind() != reflect.Struct {
		return nil
	}
	f := rv.FieldByName("AmountOutMinimum")
	if !f.IsValid() {
		return nil
	}
	v, _ := f.Interface().(*big.Int)
	return v
}

func positive(v *big.Int) *big.Int {
	if v == nil || v.Sign() <= 0 {
		return nil
	}
	return v
}
