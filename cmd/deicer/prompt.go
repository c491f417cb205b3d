package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// confirmDestroy lists the vaults about to be destroyed and asks for a yes.
func (a *app) confirmDestroy(ctx context.Context, vaults []string) (bool, error) {
	fmt.Fprintf(a.stderr, "\n%d vault(s) are ready to be destroyed:\n", len(vaults))
	for _, v := range vaults {
		fmt.Fprintf(a.stderr, "  %s\n", v)
	}
	fmt.Fprint(a.stderr, "All archives in these vaults and the vaults themselves will be deleted permanently.\nType 'yes' to continue: ")

	type answer struct {
		ok  bool
		err error
	}
	res := make(chan answer, 1)
	go func() {
		ok, err := readConfirmation(a.stdin)
		res <- answer{ok, err}
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(a.stderr)
		return false, ctx.Err()
	case ans := <-res:
		return ans.ok, ans.err
	}
}

// readConfirmation reads one line and accepts "y" or "yes" in any case.
// End of input counts as no.
func readConfirmation(r io.Reader) (bool, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
