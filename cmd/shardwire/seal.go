// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/shardwire/lib/process"
	"github.com/bureau-foundation/shardwire/lib/sealed"
	"github.com/bureau-foundation/shardwire/lib/secret"
)

func runSealToken(args []string) error {
	var recipients []string
	var armored bool
	var input, output string
	flagSet := pflag.NewFlagSet("shardwire seal-token", pflag.ContinueOnError)
	flagSet.StringArrayVarP(&recipients, "recipient", "r", nil, "age1... recipient (repeatable)")
	flagSet.BoolVarP(&armored, "armor", "a", false, "write PEM-armored output")
	flagSet.StringVarP(&input, "input", "i", "-", "plaintext token file, or - for stdin")
	flagSet.StringVarP(&output, "output", "o", "", "sealed output file (required)")
	if helped, err := parseFlags(flagSet, args); helped || err != nil {
		return err
	}
	if len(recipients) == 0 {
		return process.Usage("at least one --recipient is required")
	}
	if output == "" {
		return process.Usage("--output is required")
	}

	token, err := secret.ReadToken(input)
	if err != nil {
		return err
	}
	defer token.Close()

	ciphertext, err := sealed.Seal(token.Bytes(), recipients, armored)
	if err != nil {
		return err
	}
	if err := os.WriteFile(output, ciphertext, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", output, err)
	}
	fmt.Fprintf(os.Stderr, "sealed token %s to %d recipient(s) in %s\n", token.Fingerprint(), len(recipients), output)
	return nil
}

func runKeygen(args []string) error {
	var output string
	flagSet := pflag.NewFlagSet("shardwire keygen", pflag.ContinueOnError)
	flagSet.StringVarP(&output, "output", "o", "", "identity file to create (required)")
	if helped, err := parseFlags(flagSet, args); helped || err != nil {
		return err
	}
	if output == "" {
		return process.Usage("--output is required")
	}

	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		return err
	}
	defer keypair.Close()

	file, err := os.OpenFile(output, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("creating identity file: %w", err)
	}
	_, writeErr := fmt.Fprintf(file, "# public key: %s\n%s\n", keypair.Recipient, keypair.PrivateKey.String())
	if closeErr := file.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		return fmt.Errorf("writing identity file: %w", writeErr)
	}
	fmt.Println(keypair.Recipient)
	return nil
}
