package evm

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Logical contract names. The dispatch and event tables key on these, never
// on addresses.
const (
	ContractRecommendation = "recommendation"
	ContractToken          = "token"
	ContractGovernance     = "governance"
)

// Object types the State Reader can resolve with a direct contract read.
var readableObjectTypes = []string{
	ContractRecommendation,
	ContractToken,
	ContractGovernance,
}

const recommendationABI = `[
	{"type":"function","name":"createRecommendation","stateMutability":"nonpayable","inputs":[{"name":"author","type":"address"},{"name":"contentHash","type":"string"},{"name":"metadata","type":"string"}],"outputs":[{"name":"recId","type":"bytes32"}]},
	{"type":"function","name":"voteOnRecommendation","stateMutability":"nonpayable","inputs":[{"name":"recId","type":"bytes32"},{"name":"upvote","type":"bool"}],"outputs":[]},
	{"type":"function","name":"getRecommendation","stateMutability":"view","inputs":[{"name":"recId","type":"bytes32"}],"outputs":[{"name":"author","type":"address"},{"name":"contentHash","type":"string"},{"name":"metadata","type":"string"},{"name":"upvotes","type":"uint256"},{"name":"downvotes","type":"uint256"},{"name":"createdAt","type":"uint256"},{"name":"active","type":"bool"}]},
	{"type":"event","name":"RecommendationCreated","anonymous":false,"inputs":[{"name":"recId","type":"bytes32","indexed":true},{"name":"author","type":"address","indexed":true},{"name":"contentHash","type":"string","indexed":false},{"name":"metadata","type":"string","indexed":false}]},
	{"type":"event","name":"VoteCast","anonymous":false,"inputs":[{"name":"recId","type":"bytes32","indexed":true},{"name":"voter","type":"address","indexed":true},{"name":"upvote","type":"bool","indexed":false}]}
]`

const tokenABI = `[
	{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"claimReward","stateMutability":"nonpayable","inputs":[{"name":"actionRef","type":"string"}],"outputs":[]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"event","name":"Transfer","anonymous":false,"inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"value","type":"uint256","indexed":false}]},
	{"type":"event","name":"RewardClaimed","anonymous":false,"inputs":[{"name":"account","type":"address","indexed":true},{"name":"actionRef","type":"string","indexed":false},{"name":"amount","type":"uint256","indexed":false}]}
]`

const governanceABI = `[
	{"type":"function","name":"createProposal","stateMutability":"nonpayable","inputs":[{"name":"title","type":"string"},{"name":"description","type":"string"},{"name":"parameters","type":"string"},{"name":"votingDuration","type":"uint256"}],"outputs":[{"name":"proposalId","type":"uint256"}]},
	{"type":"function","name":"castVote","stateMutability":"nonpayable","inputs":[{"name":"proposalId","type":"uint256"},{"name":"support","type":"bool"}],"outputs":[]},
	{"type":"function","name":"getProposal","stateMutability":"view","inputs":[{"name":"proposalId","type":"uint256"}],"outputs":[{"name":"proposer","type":"address"},{"name":"title","type":"string"},{"name":"description","type":"string"},{"name":"parameters","type":"string"},{"name":"yesVotes","type":"uint256"},{"name":"noVotes","type":"uint256"},{"name":"deadline","type":"uint256"},{"name":"executed","type":"bool"}]},
	{"type":"event","name":"ProposalCreated","anonymous":false,"inputs":[{"name":"proposalId","type":"uint256","indexed":true},{"name":"proposer","type":"address","indexed":true},{"name":"title","type":"string","indexed":false}]},
	{"type":"event","name":"VoteCast","anonymous":false,"inputs":[{"name":"proposalId","type":"uint256","indexed":true},{"name":"voter","type":"address","indexed":true},{"name":"support","type":"bool","indexed":false}]}
]`

// Contract is a live handle for one logical contract.
type Contract struct {
	Name    string
	Address common.Address
	ABI     abi.ABI
}

// Registry holds the contract handles. Read-only after construction, so it
// is safe to share across the dispatcher, reader, query engine and poller.
type Registry struct {
	contracts map[string]*Contract
}

// NewRegistry parses interface descriptions and binds addresses for every
// logical contract. Config-supplied ABI files override the embedded ones.
func NewRegistry(cfg ContractsConfig) (*Registry, error) {
	specs := []struct {
		name     string
		cfg      ContractConfig
		embedded string
	}{
		{ContractRecommendation, cfg.Recommendation, recommendationABI},
		{ContractToken, cfg.Token, tokenABI},
		{ContractGovernance, cfg.Governance, governanceABI},
	}

	r := &Registry{contracts: make(map[string]*Contract, len(specs))}
	for _, spec := range specs {
		if !common.IsHexAddress(spec.cfg.Address) {
			return nil, fmt.Errorf("contract %s: invalid address %q", spec.name, spec.cfg.Address)
		}

		raw := spec.embedded
		if spec.cfg.ABIPath != "" {
			data, err := os.ReadFile(spec.cfg.ABIPath)
			if err != nil {
				return nil, fmt.Errorf("contract %s: read ABI: %w", spec.name, err)
			}
			raw = string(data)
		}

		parsed, err := abi.JSON(strings.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("contract %s: parse ABI: %w", spec.name, err)
		}

		r.contracts[spec.name] = &Contract{
			Name:    spec.name,
			Address: common.HexToAddress(spec.cfg.Address),
			ABI:     parsed,
		}
	}

	return r, nil
}

// Get returns the handle for a logical contract.
func (r *Registry) Get(name string) (*Contract, error) {
	c, ok := r.contracts[name]
	if !ok {
		return nil, fmt.Errorf("unknown contract %q", name)
	}
	return c, nil
}

// Names returns the registered contract names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.contracts))
	for name := range r.contracts {
		names = append(names, name)
	}
	return names
}
