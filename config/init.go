package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"anchorebridge/deploy"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kelseyhightower/envconfig"
	yaml "gopkg.in/yaml.v2"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// reading config error is fatal, and exists main thread
func processError(err error) {
	fmt.Println(err)
	os.Exit(2)
}

func readFile(path string, cfg *Configuration) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// environment wins over the file, e.g. CASPER_PRIVATE_KEY or EVM_RPC_LIST
func readEnv(cfg *Configuration) error {
	return envconfig.Process("", cfg)
}

// Load reads path, applies the environment on top and validates the result
func Load(path string) (Configuration, error) {
	var cfg Configuration
	if err := readFile(path, &cfg); err != nil {
		return cfg, err
	}
	if err := readEnv(&cfg); err != nil {
		return cfg, err
	}
	cfg.applyDefaults()
	return cfg, cfg.Validate()
}

func Init(path string) {
	cfg, err := Load(path)
	if err != nil {
		processError(err)
	}
	Config = cfg
}

func (c *Configuration) Validate() error {
	if c.EVM.ChainID == 0 {
		return fmt.Errorf("%w: EVM.chain_id is required", ErrInvalidConfig)
	}
	if len(c.EVM.RPCList) == 0 {
		return fmt.Errorf("%w: EVM.rpc_list is empty", ErrInvalidConfig)
	}
	if _, err := c.Vault(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Casper.NodeURL) == "" {
		return fmt.Errorf("%w: casper.node_url is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.Casper.ChainName) == "" {
		return fmt.Errorf("%w: casper.chain_name is required", ErrInvalidConfig)
	}
	if _, err := c.BridgeRef(); err != nil {
		return err
	}
	if c.Casper.KeyFile == "" && c.Casper.PrivateKey == "" {
		return fmt.Errorf("%w: casper.key_file or CASPER_PRIVATE_KEY is required", ErrInvalidConfig)
	}
	if c.Release.PaymentMotes < 0 {
		return fmt.Errorf("%w: release.payment_motes is negative", ErrInvalidConfig)
	}
	if c.Server.UseSSL && (c.Server.CertFile == "" || c.Server.KeyFile == "") {
		return fmt.Errorf("%w: ssl needs cert_file and key_file", ErrInvalidConfig)
	}
	// a deploy that can still execute must not be marked failed
	if c.Release.ExpireAfter <= c.Casper.TTL {
		return fmt.Errorf("%w: release.expire_after %s must exceed casper.ttl %s", ErrInvalidConfig, c.Release.ExpireAfter, c.Casper.TTL)
	}
	return nil
}

func (c *Configuration) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.RedisHost, c.Server.RedisPort)
}

func (c *Configuration) Vault() (common.Address, error) {
	if !common.IsHexAddress(c.EVM.VaultAddress) {
		return common.Address{}, fmt.Errorf("%w: EVM.vault_address %q", ErrInvalidConfig, c.EVM.VaultAddress)
	}
	return common.HexToAddress(c.EVM.VaultAddress), nil
}

// BridgeRef accepts a contract hash or, with the contract-package- prefix,
// a package hash
func (c *Configuration) BridgeRef() (deploy.ContractRef, error) {
	s := strings.TrimSpace(c.Casper.BridgeContract)
	var (
		ref deploy.ContractRef
		err error
	)
	if strings.HasPrefix(s, "contract-package-") {
		ref, err = deploy.ParsePackageHash(s)
	} else {
		ref, err = deploy.ParseContractHash(s)
	}
	if err != nil {
		return ref, fmt.Errorf("%w: casper.bridge_contract: %v", ErrInvalidConfig, err)
	}
	return ref, nil
}

// Payment is the release payment in motes, nil lets the pipeline pick
func (c *Configuration) Payment() *big.Int {
	if c.Release.PaymentMotes == 0 {
		return nil
	}
	return big.NewInt(c.Release.PaymentMotes)
}
