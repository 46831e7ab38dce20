package probe

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"time"
)

// DNS classes attached to unreachable outcomes.
const (
	DNSResolves      = "RESOLVES"
	DNSNotFound      = "NXDOMAIN"
	DNSNoAddress     = "NO_A_RECORD"
	DNSUnavailable   = "SERVFAIL_or_TIMEOUT"
	DNSInvalidName   = "INVALID_NAME"
	defaultDNSBudget = 3 * time.Second
)

type DNSStatus struct {
	Host          string
	Class         string
	IPs           []net.IP
	CNAME         string
	Nameservers   []string
	ResolverError string
}

// Resolver is the subset of *net.Resolver used for diagnosis.
type Resolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
	LookupCNAME(ctx context.Context, host string) (string, error)
	LookupNS(ctx context.Context, name string) ([]*net.NS, error)
}

// DNSChecker explains why a host could not be reached.
type DNSChecker struct {
	Resolver Resolver
	Budget   time.Duration
}

// CheckDNS diagnoses host with the system resolver.
func CheckDNS(ctx context.Context, host string) DNSStatus {
	return DNSChecker{Resolver: net.DefaultResolver}.Check(ctx, host)
}

func (c DNSChecker) Check(ctx context.Context, host string) DNSStatus {
	host = strings.TrimSpace(host)
	st := DNSStatus{Host: host}

	if host == "" || strings.Contains(host, "://") || strings.ContainsAny(host, " /") {
		st.Class = DNSInvalidName
		return st
	}
	if ip := net.ParseIP(host); ip != nil {
		st.IPs = []net.IP{ip}
		st.Class = DNSResolves
		return st
	}

	budget := c.Budget
	if budget <= 0 {
		budget = defaultDNSBudget
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	res := c.Resolver
	if res == nil {
		res = net.DefaultResolver
	}

	ips, ipErr := res.LookupIP(ctx, "ip", host)
	st.IPs = ips
	if ipErr != nil {
		st.ResolverError = ipErr.Error()
	}
	if cname, err := res.LookupCNAME(ctx, host); err == nil {
		cname = strings.TrimSuffix(cname, ".")
		if !strings.EqualFold(cname, host) {
			st.CNAME = cname
		}
	}
	if ns, err := res.LookupNS(ctx, host); err == nil {
		for _, n := range ns {
			st.Nameservers = append(st.Nameservers, strings.TrimSuffix(n.Host, "."))
		}
	}

	st.Class = classifyDNS(len(ips) > 0, len(st.Nameservers) > 0, ipErr)
	return st
}

// classifyDNS prefers the address lookup. A zone with nameservers but no
// address is reported as NO_A_RECORD even when the resolver says not found.
func classifyDNS(hasAddr, hasNS bool, err error) string {
	if hasAddr {
		return DNSResolves
	}
	if hasNS {
		return DNSNoAddress
	}
	var de *net.DNSError
	if errors.As(err, &de) && de.IsNotFound {
		return DNSNotFound
	}
	if err != nil {
		return DNSUnavailable
	}
	return DNSNotFound
}

// Host pulls the hostname from a URL string.
func Host(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return raw
	}
	return u.Hostname()
}
