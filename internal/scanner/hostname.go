package scanner

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/miekg/dns"
)

// hostnameResolver resolves a hostname for an IP via reverse DNS first,
// falling back to a short mDNS lookup sweep. Both sources are optional:
// callers treat a failed resolution as "unknown", never an error.
type hostnameResolver struct {
	timeout time.Duration
}

func newHostnameResolver(timeout time.Duration) *hostnameResolver {
	if timeout == 0 {
		timeout = 2 * time.Second
	}
	return &hostnameResolver{timeout: timeout}
}

func (r *hostnameResolver) resolve(ip string) (string, bool) {
	if name, ok := r.reverseDNS(ip); ok {
		return name, true
	}
	if name, ok := r.mdnsLookup(ip); ok {
		return name, true
	}
	return "", false
}

func (r *hostnameResolver) reverseDNS(ip string) (string, bool) {
	if name, ok := r.reverseDNSViaMiekg(ip); ok {
		return name, true
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	resolver := &net.Resolver{}
	names, err := resolver.LookupAddr(ctx, ip)
	if err != nil || len(names) == 0 {
		return "", false
	}

	return strings.TrimSuffix(names[0], "."), true
}

// reverseDNSViaMiekg issues an explicit PTR query against the system's
// configured resolvers, rather than delegating to net.Resolver's (cgo or
// Go-native, platform dependent) lookup path.
func (r *hostnameResolver) reverseDNSViaMiekg(ip string) (string, bool) {
	arpa, err := dns.ReverseAddr(ip)
	if err != nil {
		return "", false
	}

	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(cfg.Servers) == 0 {
		return "", false
	}

	msg := new(dns.Msg)
	msg.SetQuestion(arpa, dns.TypePTR)
	msg.RecursionDesired = true

	client := &dns.Client{Timeout: r.timeout}
	server := net.JoinHostPort(cfg.Servers[0], cfg.Port)

	resp, _, err := client.Exchange(msg, server)
	if err != nil || resp == nil || resp.Rcode != dns.RcodeSuccess {
		return "", false
	}

	for _, ans := range resp.Answer {
		if ptr, ok := ans.(*dns.PTR); ok {
			return strings.TrimSuffix(ptr.Ptr, "."), true
		}
	}
	return "", false
}

// mdnsLookup runs a short mDNS service-enumeration query and returns the
// hostname of whichever responding entry matches ip, if any.
func (r *hostnameResolver) mdnsLookup(ip string) (string, bool) {
	entriesCh := make(chan *mdns.ServiceEntry, 8)
	params := mdns.DefaultParams("_services._dns-sd._udp")
	params.Entries = entriesCh
	params.Timeout = r.timeout
	params.DisableIPv6 = true

	done := make(chan struct{})
	var found string
	var ok bool

	go func() {
		defer close(done)
		for entry := range entriesCh {
			if entry.AddrV4 != nil && entry.AddrV4.String() == ip {
				found = strings.TrimSuffix(entry.Host, ".")
				ok = true
			}
		}
	}()

	_ = mdns.Query(params)
	close(entriesCh)
	<-done

	return found, ok
}
