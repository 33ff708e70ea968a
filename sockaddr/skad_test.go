// File: sockaddr/skad_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
package sockaddr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseQX(t *testing.T) {
	a, err := Parse("<qx>")
	require.NoError(t, err)
	require.Equal(t, FamilyQX, a.Family)
}

func TestParseUnix(t *testing.T) {
	a, err := Parse("@t06.sck")
	require.NoError(t, err)
	require.Equal(t, FamilyUnix, a.Family)
	require.Equal(t, "t06.sck", a.Path)
}

func TestParseIPv4WithPort(t *testing.T) {
	a, err := Parse("127.0.0.1:9987")
	require.NoError(t, err)
	require.Equal(t, FamilyInet4, a.Family)
	require.Equal(t, uint16(9987), a.Port)
	require.Equal(t, "127.0.0.1:9987", a.Format(FlagAddr|FlagPort))
}

func TestParseBareIPv4(t *testing.T) {
	a, err := Parse("10.0.0.1")
	require.NoError(t, err)
	require.Equal(t, FamilyInet4, a.Family)
	require.Equal(t, uint16(0), a.Port)
}

func TestParseBracketedIPv6WithPort(t *testing.T) {
	a, err := Parse("[::1]:9987")
	require.NoError(t, err)
	require.Equal(t, FamilyInet6, a.Family)
	require.Equal(t, uint16(9987), a.Port)
}

func TestParseBracketedIPv6WithNumericScope(t *testing.T) {
	a, err := Parse("[fe80::1%5]:80")
	require.NoError(t, err)
	require.Equal(t, uint32(5), a.ScopeID)
}

func TestParseScopeOverflowRejected(t *testing.T) {
	_, err := Parse("[fe80::1%99999999999999999999]")
	require.Error(t, err)
}

func TestParseMissingRightBracket(t *testing.T) {
	_, err := Parse("[::1:80")
	require.Error(t, err)
}

func TestParseBlank(t *testing.T) {
	_, err := Parse("")
	require.Error(t, err)
}

func TestParsePortOverflow(t *testing.T) {
	_, err := Parse("127.0.0.1:70000")
	require.Error(t, err)
}

func TestRoundTripNonUnix(t *testing.T) {
	cases := []string{"127.0.0.1:9987", "[::1]:443", "192.168.1.1"}
	for _, text := range cases {
		a, err := Parse(text)
		require.NoError(t, err)
		b, err := Parse(a.Format(FlagAddr | FlagPort))
		require.NoError(t, err)
		require.True(t, a.Equal(b), "round trip mismatch for %q", text)
	}
}

func TestPortZeroOmittedWhenAddrOnly(t *testing.T) {
	a, err := Parse("127.0.0.1")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", a.Format(FlagAddr))
	require.Equal(t, "", a.Format(FlagPort))
}

func TestBareIPv6NoBrackets(t *testing.T) {
	a, err := Parse("::1")
	require.NoError(t, err)
	require.Equal(t, FamilyInet6, a.Family)
}

func TestIPv4MappedIPv6Shortcut(t *testing.T) {
	a, err := Parse("[::ffff:192.168.0.1]:80")
	require.NoError(t, err)
	require.Equal(t, FamilyInet6, a.Family)
	require.Contains(t, a.Format(FlagAddr), "ffff:192.168.0.1")
}
