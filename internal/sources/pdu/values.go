package pdu

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gosnmp/gosnmp"

	"perfwatch/internal/counters"
)

// snmpValue is a numeric SNMP variable.
type snmpValue int64

func (v snmpValue) Int64() int64 { return int64(v) }

// toValue keeps numeric variables and drops noSuchObject and friends.
func toValue(pdu gosnmp.SnmpPDU) (snmpValue, bool) {
	switch pdu.Type {
	case gosnmp.Integer, gosnmp.Counter32, gosnmp.Gauge32, gosnmp.Counter64,
		gosnmp.Uinteger32, gosnmp.TimeTicks:
		return snmpValue(gosnmp.ToBigInt(pdu.Value).Int64()), true
	default:
		return 0, false
	}
}

func (c *Client) formatAmps(v snmpValue) string {
	return counters.FormatValue(float64(v) * c.settings.AmpsScale)
}

func (c *Client) isOn(v snmpValue) bool {
	return v.Int64() == int64(c.settings.StateOn)
}

func (c *Client) formatState(v snmpValue) string {
	if c.isOn(v) {
		return "on"
	}
	return "off"
}

func formatInt(v snmpValue) string {
	return strconv.FormatInt(v.Int64(), 10)
}

func normalizeOID(oid string) string {
	if oid == "" || strings.HasPrefix(oid, ".") {
		return oid
	}
	return "." + oid
}

func outletOID(base string, n int) string {
	return fmt.Sprintf("%s.%d", base, n)
}

func outletName(n int) string {
	return fmt.Sprintf("Outlet%d", n)
}

func outletNumber(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, "Outlet")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
