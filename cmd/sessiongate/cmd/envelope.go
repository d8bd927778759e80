package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jmcleod/sessiongate/codec"
)

var encryptCmd = &cobra.Command{
	Use:   "encrypt [json]",
	Short: "Seal a JSON document into a request envelope",
	Long: `Encrypts a JSON document with the configured key and prints the
{"ciphertext","iv","authTag"} envelope accepted by the gateway. The document
is read from the argument or, if absent, from stdin.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadCodec()
		if err != nil {
			return err
		}
		in, err := readInput(cmd, args)
		if err != nil {
			return err
		}
		if !json.Valid(in) {
			return errors.New("input is not valid JSON")
		}
		env, err := c.Encrypt(string(bytes.TrimSpace(in)))
		if err != nil {
			return err
		}
		return json.NewEncoder(cmd.OutOrStdout()).Encode(env)
	},
}

var decryptCmd = &cobra.Command{
	Use:   "decrypt [envelope]",
	Short: "Open a request envelope and print its JSON",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadCodec()
		if err != nil {
			return err
		}
		in, err := readInput(cmd, args)
		if err != nil {
			return err
		}
		env, ok, err := codec.Detect(in)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("input is not an encrypted envelope")
		}
		plain, err := c.Decrypt(env)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), plain)
		return nil
	},
}

func loadCodec() (*codec.Codec, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return codec.New(cfg.Encryption.Key, cfg.Encryption.Algorithm)
}

func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 1 {
		return []byte(args[0]), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return nil, fmt.Errorf("reading stdin: %w", err)
	}
	return data, nil
}

func init() {
	rootCmd.AddCommand(encryptCmd, decryptCmd)
}
