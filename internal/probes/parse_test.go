package probes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/circuitdiag/internal/model"
)

const junosPing = `PING 10.20.30.2 (10.20.30.2): 1472 data bytes
!!!!!
--- 10.20.30.2 ping statistics ---
5 packets transmitted, 5 packets received, 0% packet loss
round-trip min/avg/max/stddev = 0.812/1.004/1.530/0.268 ms
`

const linuxPing = `PING 8.8.8.8 (8.8.8.8) 56(84) bytes of data.

--- 8.8.8.8 ping statistics ---
1000 packets transmitted, 993 received, 0.7% packet loss, time 99812ms
`

const iosPing = `Type escape sequence to abort.
Sending 1000, 1472-byte ICMP Echos to 172.16.0.2, timeout is 2 seconds:
!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!
Success rate is 97 percent (970/1000), round-trip min/avg/max = 1/2/8 ms
`

const routerOSPing = `  SEQ HOST                                     SIZE TTL TIME       STATUS
    0 10.255.0.2                               1472  64 1ms455us
    1 10.255.0.2                               1472  64 1ms202us
    sent=2 received=2 packet-loss=0% min-rtt=1ms202us avg-rtt=1ms328us max-rtt=1ms455us
    2 10.255.0.2                                           timeout
    3 10.255.0.2                               1472  64 1ms301us
    4 10.255.0.2                               1472  64 1ms110us
    sent=5 received=4 packet-loss=20% min-rtt=1ms110us avg-rtt=1ms267us max-rtt=1ms455us
`

func TestParsers(t *testing.T) {
	tests := map[string]struct {
		parser   Parser
		raw      string
		sent     int
		received int
		loss     float64
	}{
		"junos clean":         {parser: UnixParser{}, raw: junosPing, sent: 5, received: 5, loss: 0},
		"linux partial loss":  {parser: UnixParser{}, raw: linuxPing, sent: 1000, received: 993, loss: 0.7},
		"ios success rate":    {parser: CiscoParser{}, raw: iosPing, sent: 1000, received: 970, loss: 3},
		"routeros last wins":  {parser: RouterOSParser{}, raw: routerOSPing, sent: 5, received: 4, loss: 20},
		"routeros total loss": {parser: RouterOSParser{}, raw: "sent=5 received=0 packet-loss=100%", sent: 5, received: 0, loss: 100},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			o, err := test.parser.Parse(test.raw)
			require.NoError(t, err)
			assert.Equal(t, test.sent, o.Sent)
			assert.Equal(t, test.received, o.Received)
			assert.InDelta(t, test.loss, o.LossPercent, 0.001)
			assert.Equal(t, test.raw, o.Raw)
		})
	}
}

func TestParsersRejectUnknownOutput(t *testing.T) {
	for name, p := range map[string]Parser{"unix": UnixParser{}, "cisco": CiscoParser{}, "routeros": RouterOSParser{}} {
		t.Run(name, func(t *testing.T) {
			_, err := p.Parse("error: no route to host")
			var perr *ParseError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, "error: no route to host", perr.Raw)
		})
	}
}

func TestParsedReceivedIsClamped(t *testing.T) {
	o, err := UnixParser{}.Parse("5 packets transmitted, 7 packets received, 0% packet loss")
	require.NoError(t, err)
	assert.Equal(t, 5, o.Received)
	assert.Zero(t, o.LossPercent)
}

func TestUnixParserLossOnly(t *testing.T) {
	tests := map[string]struct {
		raw  string
		loss float64
		want model.HealthState
	}{
		"fractional loss": {raw: "--- 10.0.0.2 ping statistics ---\n1.5% packet loss", loss: 1.5, want: model.HealthClean},
		"partial loss":    {raw: "37.5% packet loss", loss: 37.5, want: model.HealthDegraded},
		"total loss":      {raw: "100% packet loss", loss: 100, want: model.HealthDown},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			o, err := UnixParser{}.Parse(test.raw)
			require.NoError(t, err)
			assert.True(t, o.CountsUnknown)
			assert.Zero(t, o.Sent)
			assert.Zero(t, o.Received)
			assert.Equal(t, test.loss, o.LossPercent)

			v := Classify(o)
			assert.Equal(t, test.want, v.State)
			assert.Equal(t, test.loss, v.LossPercent)
		})
	}
}

func TestUnixParserCountsWinOverLossLine(t *testing.T) {
	o, err := UnixParser{}.Parse(linuxPing)
	require.NoError(t, err)
	assert.False(t, o.CountsUnknown)
	assert.InDelta(t, 100*float64(o.Sent-o.Received)/float64(o.Sent), o.LossPercent, 1e-9)
}

func TestParserFor(t *testing.T) {
	assert.IsType(t, RouterOSParser{}, ParserFor(model.VendorMikrotik))
	assert.IsType(t, CiscoParser{}, ParserFor(model.VendorCisco))
	assert.IsType(t, UnixParser{}, ParserFor(model.VendorJuniper))
	assert.IsType(t, UnixParser{}, ParserFor(model.VendorDatacom))
}
