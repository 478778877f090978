// internal/ledger/abi.go
package ledger

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// LobbyABI is the published interface of the lobby contract.
const LobbyABI = `[
	{"type":"function","name":"createLobby","inputs":[{"name":"lobbyId","type":"bytes32"},{"name":"betAmount","type":"uint256"},{"name":"isPublic","type":"bool"},{"name":"stakeToken","type":"address"}],"outputs":[],"stateMutability":"payable"},
	{"type":"function","name":"joinLobby","inputs":[{"name":"lobbyId","type":"bytes32"}],"outputs":[],"stateMutability":"payable"},
	{"type":"function","name":"cancelLobby","inputs":[{"name":"lobbyId","type":"bytes32"}],"outputs":[],"stateMutability":"nonpayable"},
	{"type":"function","name":"startGame","inputs":[{"name":"lobbyId","type":"bytes32"}],"outputs":[],"stateMutability":"nonpayable"},
	{"type":"function","name":"declareWinner","inputs":[{"name":"lobbyId","type":"bytes32"},{"name":"winner","type":"address"}],"outputs":[],"stateMutability":"nonpayable"},
	{"type":"function","name":"claimPrize","inputs":[{"name":"lobbyId","type":"bytes32"}],"outputs":[],"stateMutability":"nonpayable"},
	{"type":"function","name":"addToAllowlist","inputs":[{"name":"lobbyId","type":"bytes32"},{"name":"accounts","type":"address[]"}],"outputs":[],"stateMutability":"nonpayable"},
	{"type":"function","name":"removeFromAllowlist","inputs":[{"name":"lobbyId","type":"bytes32"},{"name":"accounts","type":"address[]"}],"outputs":[],"stateMutability":"nonpayable"},
	{"type":"function","name":"setAllowlistEnabled","inputs":[{"name":"lobbyId","type":"bytes32"},{"name":"enabled","type":"bool"}],"outputs":[],"stateMutability":"nonpayable"},
	{"type":"function","name":"getLobby","inputs":[{"name":"lobbyId","type":"bytes32"}],"outputs":[{"name":"host","type":"address"},{"name":"betAmount","type":"uint256"},{"name":"participants","type":"address[]"},{"name":"status","type":"uint8"},{"name":"winner","type":"address"},{"name":"totalPrize","type":"uint256"},{"name":"stakeToken","type":"address"}],"stateMutability":"view"},
	{"type":"function","name":"isAllowlistEnabled","inputs":[{"name":"lobbyId","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}],"stateMutability":"view"},
	{"type":"function","name":"isAllowlisted","inputs":[{"name":"lobbyId","type":"bytes32"},{"name":"account","type":"address"}],"outputs":[{"name":"","type":"bool"}],"stateMutability":"view"},
	{"type":"function","name":"getAllPublicLobbies","inputs":[],"outputs":[{"name":"","type":"bytes32[]"}],"stateMutability":"view"},
	{"type":"function","name":"getPublicLobbyCount","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
	{"type":"event","name":"GameStarted","anonymous":false,"inputs":[{"name":"lobbyId","type":"bytes32","indexed":true}]},
	{"type":"event","name":"WinnerDeclared","anonymous":false,"inputs":[{"name":"lobbyId","type":"bytes32","indexed":true},{"name":"winner","type":"address","indexed":true}]},
	{"type":"event","name":"PrizeClaimed","anonymous":false,"inputs":[{"name":"lobbyId","type":"bytes32","indexed":true},{"name":"winner","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"error","name":"InsufficientFunds","inputs":[]},
	{"type":"error","name":"GameAlreadyStarted","inputs":[]},
	{"type":"error","name":"NotWinner","inputs":[]},
	{"type":"error","name":"GameNotFinished","inputs":[]},
	{"type":"error","name":"PrizeAlreadyClaimed","inputs":[]},
	{"type":"error","name":"NotGameServer","inputs":[]},
	{"type":"error","name":"GameNotInProgress","inputs":[]},
	{"type":"error","name":"InvalidWinner","inputs":[]},
	{"type":"error","name":"NotHost","inputs":[]},
	{"type":"error","name":"LobbyNotFound","inputs":[]},
	{"type":"error","name":"LobbyAlreadyExists","inputs":[]},
	{"type":"error","name":"AlreadyJoined","inputs":[]},
	{"type":"error","name":"NotAllowlisted","inputs":[]}
]`

// ERC20MetadataABI covers the token metadata reads used for stake display.
const ERC20MetadataABI = `[
	{"type":"function","name":"symbol","inputs":[],"outputs":[{"name":"","type":"string"}],"stateMutability":"view"},
	{"type":"function","name":"decimals","inputs":[],"outputs":[{"name":"","type":"uint8"}],"stateMutability":"view"}
]`

var (
	lobbyABI = mustParseABI(LobbyABI)
	erc20ABI = mustParseABI(ERC20MetadataABI)
)

// Contract method names.
const (
	MethodCreateLobby         = "createLobby"
	MethodJoinLobby           = "joinLobby"
	MethodCancelLobby         = "cancelLobby"
	MethodStartGame           = "startGame"
	MethodDeclareWinner       = "declareWinner"
	MethodClaimPrize          = "claimPrize"
	MethodAddToAllowlist      = "addToAllowlist"
	MethodRemoveFromAllowlist = "removeFromAllowlist"
	MethodSetAllowlistEnabled = "setAllowlistEnabled"
	MethodGetLobby            = "getLobby"
	MethodIsAllowlistEnabled  = "isAllowlistEnabled"
	MethodIsAllowlisted       = "isAllowlisted"
	MethodGetAllPublicLobbies = "getAllPublicLobbies"
	MethodGetPublicLobbyCount = "getPublicLobbyCount"
)

// ABI returns the parsed lobby contract interface.
func ABI() abi.ABI {
	return lobbyABI
}

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("ledger: bad abi: " + err.Error())
	}
	return parsed
}

// ERC20ABI returns the parsed token metadata interface.
func ERC20ABI() abi.ABI {
	return erc20ABI
}
