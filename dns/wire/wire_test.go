// File: dns/wire/wire_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
package wire

import (
	"bytes"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := new(dns.Msg)
	m.SetQuestion("example.com.", dns.TypeA)
	m.RecursionDesired = true

	buf, err := Encode(m)
	require.NoError(t, err)

	got, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, m.Question[0].Name, got.Question[0].Name)
	require.True(t, got.RecursionDesired)
}

func TestEncodeRejectsHighRcodeWithoutEDNS(t *testing.T) {
	m := new(dns.Msg)
	m.SetQuestion("example.com.", dns.TypeA)
	m.Rcode = 0x20

	_, err := Encode(m)
	require.Error(t, err)
}

func TestEncodeAllowsHighRcodeWithEDNS(t *testing.T) {
	m := new(dns.Msg)
	m.SetQuestion("example.com.", dns.TypeA)
	m.Rcode = 0x20
	SetEDNS0(m, 4096, false)

	_, err := Encode(m)
	require.NoError(t, err)
}

func TestTCPFraming(t *testing.T) {
	m := new(dns.Msg)
	m.SetQuestion("example.com.", dns.TypeAAAA)

	framed, err := EncodeTCP(m)
	require.NoError(t, err)

	got, err := ReadTCP(bytes.NewReader(framed))
	require.NoError(t, err)
	require.Equal(t, m.Question[0].Name, got.Question[0].Name)
}
