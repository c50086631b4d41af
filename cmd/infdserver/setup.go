package main

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dreamware/infdserver/pkg/session"
)

func newSetupCommand() *cobra.Command {
	var cfg SetupConfig
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Generate the server's rejoin signing key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd, &cfg, defaultConfDir()); err != nil {
				fmt.Fprintln(os.Stderr, "loading configuration:", err)
				os.Exit(exitStartupFailure)
			}
			if err := generateRejoinKey(cfg.RejoinKeyPath); err != nil {
				fmt.Fprintln(os.Stderr, "generating rejoin key:", err)
				os.Exit(exitStartupFailure)
			}
			fmt.Println("wrote rejoin signing key to", cfg.RejoinKeyPath)
			return nil
		},
	}
	return cmd
}

func generateRejoinKey(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists; remove it first if you want to rotate the key", path)
	}

	key, err := session.GenerateRejoinKey()
	if err != nil {
		return err
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return err
	}
	block := &pem.Block{Type: "EC PRIVATE KEY", Bytes: der}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	return pem.Encode(f, block)
}
