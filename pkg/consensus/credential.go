package consensus

import (
	"fmt"
	"os"
)

// NodeCredentials is the secret material a node loads at startup.
type NodeCredentials struct {
	SK SK
}

// LoadCredential reads a node credential file.
func LoadCredential(path string) (*NodeCredentials, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var c NodeCredentials
	err = decode(b, &c)
	if err != nil {
		return nil, fmt.Errorf("parse credential file: %w", err)
	}
	return &c, nil
}

// Save writes the credential file.
func (c *NodeCredentials) Save(path string) error {
	return os.WriteFile(path, encode(*c), 0600)
}
