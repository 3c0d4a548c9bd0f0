package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/StricklySoft/stricklysoft-authgate/pkg/auth"
	sserr "github.com/StricklySoft/stricklysoft-authgate/pkg/errors"
)

// inspection is what inspect prints. Nothing in it is verified.
type inspection struct {
	Header    map[string]any `json:"header" yaml:"header"`
	Claims    map[string]any `json:"claims" yaml:"claims"`
	Version   string         `json:"token_version" yaml:"token_version"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	Expired   bool           `json:"expired" yaml:"expired"`
	Remaining string         `json:"remaining,omitempty" yaml:"remaining,omitempty"`
}

func newInspectCmd() *cobra.Command {
	var (
		output     string
		legacyHost string
	)
	cmd := &cobra.Command{
		Use:   "inspect [token|-]",
		Short: "Decode a token without verifying it",
		Long: "Decode a bearer token and print its header, claims, schema version and expiry.\n" +
			"The signature is NOT checked. Pass - or nothing to read the token from stdin.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readToken(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			cfg := auth.DefaultConfig()
			if legacyHost != "" {
				cfg.LegacyIssuerHost = legacyHost
			}
			out, err := inspect(raw, &cfg, time.Now())
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), output, out)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "json", "output format: json or yaml")
	cmd.Flags().StringVar(&legacyHost, "legacy-issuer-host", "", "issuer host that marks a v1 token")
	return cmd
}

func readToken(in io.Reader, args []string) (string, error) {
	var raw string
	if len(args) == 1 && args[0] != "-" {
		raw = args[0]
	} else {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && err != io.EOF {
			return "", sserr.Wrap(err, sserr.CodeValidation, "authgate: failed to read token from stdin")
		}
		raw = line
	}
	raw = strings.TrimSpace(raw)
	if tok := auth.ExtractBearerToken(raw); tok != "" {
		raw = tok
	}
	return raw, nil
}

func inspect(raw string, cfg *auth.Config, now time.Time) (*inspection, error) {
	tok, err := auth.ParseUnverified(raw)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidationFormat, "authgate: not a decodable JWT")
	}
	out := &inspection{
		Header:  tok.Header,
		Claims:  tok.Claims,
		Version: string(cfg.DetectVersion(tok.Issuer())),
	}
	if exp, ok := tok.ExpiresAt(); ok {
		exp = exp.UTC()
		out.ExpiresAt = &exp
		out.Expired = !now.Before(exp)
		if !out.Expired {
			out.Remaining = exp.Sub(now).Round(time.Second).String()
		}
	}
	return out, nil
}

func render(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return sserr.Newf(sserr.CodeValidation, "authgate: unknown output format %q", format)
	}
}

// keyListing is one row of the keys command.
type keyListing struct {
	KID  string `json:"kid" yaml:"kid"`
	Alg  string `json:"alg,omitempty" yaml:"alg,omitempty"`
	Type string `json:"type" yaml:"type"`
}

func describeKey(k auth.SigningKey) keyListing {
	return keyListing{KID: k.KID, Alg: k.Alg, Type: strings.TrimPrefix(fmt.Sprintf("%T", k.Key), "*")}
}
