package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"gadgets/internal/gadget"
	"gadgets/internal/listing"
	"gadgets/internal/logging"
)

var decodeCmd = &cobra.Command{
	Use:   "decode [bytes...]",
	Short: "Decode a single candidate window",
	Long: `Decode one byte sequence with the configured decoder and report whether
it would be accepted as a gadget. Bytes may be given as separate arguments or
as one quoted string; a trailing return opcode is not added automatically.`,
	Example: `
# Check a window with the builtin decoder
gadgets decode 5d c3

# Ask an external oracle instead
gadgets decode --oracle "udcli -64 -x -att" "41 5f c3"
  `,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		cfg, err := Resolve(cmd)
		if err != nil {
			return err
		}
		w, err := parseWindow(strings.Join(args, " "))
		if err != nil {
			return err
		}

		lg := logging.NewLogger()
		defer lg.Close()

		dec, err := cfg.NewDecoder(lg.Logger)
		if err != nil {
			return err
		}
		res, err := dec.Decode(cmd.Context(), w)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if !res.Accepted {
			fmt.Fprintf(out, "rejected: %s\n", w.Hex())
			return nil
		}
		fmt.Fprint(out, res.Text)
		return nil
	},
}

// parseWindow accepts "5d c3", "5dc3" or "0x5d 0xc3".
func parseWindow(s string) (gadget.Window, error) {
	s = strings.ReplaceAll(strings.ToLower(s), "0x", "")
	var hexes []string
	for _, f := range strings.Fields(s) {
		if len(f)%2 != 0 {
			return gadget.Window{}, fmt.Errorf("odd number of hex digits in %q", f)
		}
		for i := 0; i < len(f); i += 2 {
			hexes = append(hexes, f[i:i+2])
		}
	}
	// Reuse the listing grammar so the bytes are validated the same way.
	tokens := listing.ExtractBytes("0: " + strings.Join(hexes, " "))
	if len(tokens) != len(hexes) || len(tokens) == 0 {
		return gadget.Window{}, fmt.Errorf("invalid byte sequence %q", s)
	}
	w := gadget.Window{}
	for _, h := range tokens {
		w.Tokens = append(w.Tokens, gadget.Token{Hex: h})
	}
	return w, nil
}

func init() {
	addScanFlags(decodeCmd)
	rootCmd.AddCommand(decodeCmd)
}
