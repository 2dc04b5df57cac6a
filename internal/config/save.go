package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/zjrosen/metaportal/internal/log"
)

// chainYAML fixes the key order and omits unset fields when chains are
// written back to the config file.
type chainYAML struct {
	Name          string   `yaml:"name"`
	Title         string   `yaml:"title,omitempty"`
	Color         string   `yaml:"color,omitempty"`
	Icon          string   `yaml:"icon,omitempty"`
	RPCEndpoints  []string `yaml:"rpc_endpoints,flow"`
	RelayChain    string   `yaml:"relay_chain,omitempty"`
	GithubRelease string   `yaml:"github_release,omitempty"`
	TokenUnit     string   `yaml:"token_unit,omitempty"`
	TokenDecimals *uint8   `yaml:"token_decimals,omitempty"`
	Testnet       bool     `yaml:"testnet,omitempty"`
}

// SaveChains replaces the chains section of the config file. Comments and
// formatting of every other section are preserved by editing the yaml.Node
// tree.
func SaveChains(configPath string, chains []Chain) error {
	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading config: %w", err)
	}

	var doc yaml.Node
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parsing config: %w", err)
		}
	}

	chainsNode, err := buildChainsNode(chains)
	if err != nil {
		return fmt.Errorf("building chains node: %w", err)
	}

	if err := setTopLevelKey(&doc, "chains", chainsNode); err != nil {
		return err
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&doc); err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	_ = encoder.Close()

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := writeFileAtomic(configPath, buf.Bytes()); err != nil {
		return err
	}
	log.Info(log.CatConfig, "Saved chains", "path", configPath, "chains", len(chains))
	return nil
}

// setTopLevelKey replaces key in the document's root mapping, appending it
// when absent, and creates the document when it is empty.
func setTopLevelKey(doc *yaml.Node, key string, value *yaml.Node) error {
	if doc.Kind == 0 {
		*doc = yaml.Node{
			Kind: yaml.DocumentNode,
			Content: []*yaml.Node{{
				Kind: yaml.MappingNode,
				Content: []*yaml.Node{
					{Kind: yaml.ScalarNode, Value: key},
					value,
				},
			}},
		}
		return nil
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return fmt.Errorf("config root is not a mapping")
	}

	root := doc.Content[0]
	for i := 0; i < len(root.Content)-1; i += 2 {
		if root.Content[i].Value == key {
			root.Content[i+1] = value
			return nil
		}
	}
	root.Content = append(root.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Value: key},
		value,
	)
	return nil
}

func buildChainsNode(chains []Chain) (*yaml.Node, error) {
	node := &yaml.Node{
		Kind:    yaml.SequenceNode,
		Content: make([]*yaml.Node, 0, len(chains)),
	}
	for _, chain := range chains {
		var item yaml.Node
		if err := item.Encode(chainYAML(chain)); err != nil {
			return nil, fmt.Errorf("encoding chain %s: %w", chain.Name, err)
		}
		node.Content = append(node.Content, &item)
	}
	return node, nil
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	temp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := temp.Name()

	if _, err := temp.Write(data); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tempPath, 0o644); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("setting permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
