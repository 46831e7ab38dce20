package probe

import (
	"context"
	"errors"
	"net"
	"testing"
)

type fakeResolver struct {
	ips     []net.IP
	ipErr   error
	cname   string
	ns      []*net.NS
	lookups int
}

func (f *fakeResolver) LookupIP(ctx context.Context, network, host string) ([]net.IP, error) {
	f.lookups++
	return f.ips, f.ipErr
}

func (f *fakeResolver) LookupCNAME(ctx context.Context, host string) (string, error) {
	if f.cname == "" {
		return host + ".", nil
	}
	return f.cname, nil
}

func (f *fakeResolver) LookupNS(ctx context.Context, name string) ([]*net.NS, error) {
	if len(f.ns) == 0 {
		return nil, &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
	}
	return f.ns, nil
}

func TestDNSChecker_IPLiteralSkipsLookup(t *testing.T) {
	fr := &fakeResolver{}
	for _, host := range []string{"10.0.0.7", "::1"} {
		st := DNSChecker{Resolver: fr}.Check(context.Background(), host)
		if st.Class != DNSResolves || len(st.IPs) != 1 {
			t.Fatalf("%s: got %+v", host, st)
		}
	}
	if fr.lookups != 0 {
		t.Fatalf("IP literals must not hit the resolver, lookups=%d", fr.lookups)
	}
}

func TestDNSChecker_InvalidName(t *testing.T) {
	fr := &fakeResolver{}
	for _, host := range []string{"", "   ", "https://example.com", "bad host"} {
		if st := (DNSChecker{Resolver: fr}).Check(context.Background(), host); st.Class != DNSInvalidName {
			t.Fatalf("%q: want INVALID_NAME, got %q", host, st.Class)
		}
	}
	if fr.lookups != 0 {
		t.Fatalf("invalid names must not hit the resolver")
	}
}

func TestDNSChecker_Classes(t *testing.T) {
	notFound := &net.DNSError{Err: "no such host", Name: "x", IsNotFound: true}
	cases := []struct {
		name string
		fr   *fakeResolver
		want string
	}{
		{"resolves", &fakeResolver{ips: []net.IP{net.ParseIP("192.0.2.1")}, cname: "edge.cdn.example.net."}, DNSResolves},
		{"nxdomain", &fakeResolver{ipErr: notFound}, DNSNotFound},
		{"zone without address", &fakeResolver{ipErr: notFound, ns: []*net.NS{{Host: "ns1.example.com."}}}, DNSNoAddress},
		{"timeout", &fakeResolver{ipErr: &net.DNSError{Err: "i/o timeout", IsTimeout: true}}, DNSUnavailable},
		{"other error", &fakeResolver{ipErr: errors.New("refused")}, DNSUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := DNSChecker{Resolver: tc.fr}.Check(context.Background(), "shop.example.com")
			if st.Class != tc.want {
				t.Fatalf("want %s, got %+v", tc.want, st)
			}
		})
	}
}

func TestDNSChecker_CNAMEAndNameservers(t *testing.T) {
	fr := &fakeResolver{
		ips:   []net.IP{net.ParseIP("192.0.2.1")},
		cname: "edge.cdn.example.net.",
		ns:    []*net.NS{{Host: "ns1.example.com."}},
	}
	st := DNSChecker{Resolver: fr}.Check(context.Background(), "shop.example.com")
	if st.CNAME != "edge.cdn.example.net" {
		t.Fatalf("cname=%q", st.CNAME)
	}
	if len(st.Nameservers) != 1 || st.Nameservers[0] != "ns1.example.com" {
		t.Fatalf("nameservers=%v", st.Nameservers)
	}

	// a CNAME pointing at itself is not reported
	self := DNSChecker{Resolver: &fakeResolver{ips: fr.ips}}.Check(context.Background(), "shop.example.com")
	if self.CNAME != "" {
		t.Fatalf("self cname should be dropped, got %q", self.CNAME)
	}
}
