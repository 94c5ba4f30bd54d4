// Package contracts packs and unpacks calldata for the contracts a workflow
// talks to: ERC-20 tokens, the v4 swap router and quoter, the payroll
// settlement contract and the ENS registry.
package contracts

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const erc20JSON = `[
 {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

const poolKeyComponents = `[
 {"name":"currency0","type":"address"},
 {"name":"currency1","type":"address"},
 {"name":"fee","type":"uint24"},
 {"name":"tickSpacing","type":"int24"},
 {"name":"hooks","type":"address"}
]`

var swapRouterJSON = `[
 {"type":"function","name":"swap","stateMutability":"payable",
  "inputs":[
   {"name":"key","type":"tuple","components":` + poolKeyComponents + `},
   {"name":"params","type":"tuple","components":[
     {"name":"zeroForOne","type":"bool"},
     {"name":"amountSpecified","type":"int256"},
     {"name":"sqrtPriceLimitX96","type":"uint160"}]},
   {"name":"testSettings","type":"tuple","components":[
     {"name":"takeClaims","type":"bool"},
     {"name":"settleUsingBurn","type":"bool"}]},
   {"name":"hookData","type":"bytes"}],
  "outputs":[{"name":"delta","type":"int256"}]}
]`

var quoterJSON = `[
 {"type":"function","name":"quoteExactOutputSingle","stateMutability":"nonpayable",
  "inputs":[{"name":"params","type":"tuple","components":[
   {"name":"poolKey","type":"tuple","components":` + poolKeyComponents + `},
   {"name":"zeroForOne","type":"bool"},
   {"name":"exactAmount","type":"uint128"},
   {"name":"hookData","type":"bytes"}]}],
  "outputs":[{"name":"amountIn","type":"uint256"},{"name":"gasEstimate","type":"uint256"}]},
 {"type":"function","name":"quoteExactInputSingle","stateMutability":"nonpayable",
  "inputs":[{"name":"params","type":"tuple","components":[
   {"name":"poolKey","type":"tuple","components":` + poolKeyComponents + `},
   {"name":"zeroForOne","type":"bool"},
   {"name":"exactAmount","type":"uint128"},
   {"name":"hookData","type":"bytes"}]}],
  "outputs":[{"name":"amountOut","type":"uint256"},{"name":"gasEstimate","type":"uint256"}]}
]`

const payrollJSON = `[
 {"type":"function","name":"distributeSalary","stateMutability":"nonpayable",
  "inputs":[
   {"name":"token","type":"address"},
   {"name":"recipients","type":"address[]"},
   {"name":"amounts","type":"uint256[]"},
   {"name":"memo","type":"string"}],
  "outputs":[]},
 {"type":"event","name":"SalaryDistributed","anonymous":false,
  "inputs":[
   {"name":"token","type":"address","indexed":true},
   {"name":"totalAmount","type":"uint256","indexed":false},
   {"name":"memo","type":"string","indexed":false},
   {"name":"timestamp","type":"uint256","indexed":false}]}
]`

const ensJSON = `[
 {"type":"function","name":"resolver","stateMutability":"view","inputs":[{"name":"node","type":"bytes32"}],"outputs":[{"name":"","type":"address"}]},
 {"type":"function","name":"addr","stateMutability":"view","inputs":[{"name":"node","type":"bytes32"}],"outputs":[{"name":"","type":"address"}]}
]`

var (
	ERC20      = mustParse("erc20", erc20JSON)
	SwapRouter = mustParse("swap router", swapRouterJSON)
	Quoter     = mustParse("quoter", quoterJSON)
	Payroll    = mustParse("payroll", payrollJSON)
	ENS        = mustParse("ens", ensJSON)
)

func mustParse(name, definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(fmt.Sprintf("parse %s abi: %v", name, err))
	}
	return parsed
}
