package reputation

import "net/netip"

// Default IP range tables for network classification. These cover the large
// cloud providers and a handful of common VPN egress blocks; deployments can
// extend them via AddDatacenterRange / AddVPNRange.

var defaultDatacenterRanges = []string{
	// AWS
	"3.0.0.0/9",
	"13.32.0.0/12",
	"18.128.0.0/9",
	"52.0.0.0/10",
	"54.64.0.0/11",
	// Google Cloud
	"34.64.0.0/10",
	"35.184.0.0/13",
	"104.154.0.0/15",
	"130.211.0.0/16",
	// Azure
	"13.64.0.0/11",
	"20.33.0.0/16",
	"40.74.0.0/15",
	"52.224.0.0/11",
	// DigitalOcean
	"104.131.0.0/16",
	"138.68.0.0/16",
	"159.89.0.0/16",
	"167.99.0.0/16",
	// Hetzner
	"5.9.0.0/16",
	"88.198.0.0/16",
	"136.243.0.0/16",
	// OVH
	"51.68.0.0/16",
	"51.75.0.0/16",
	"145.239.0.0/16",
	// Linode
	"45.33.0.0/17",
	"172.104.0.0/15",
}

var defaultVPNRanges = []string{
	// Common commercial VPN egress blocks
	"31.171.152.0/24",
	"37.120.128.0/17",
	"45.83.88.0/21",
	"62.102.148.0/24",
	"77.234.40.0/21",
	"84.17.32.0/19",
	"89.187.160.0/19",
	"138.199.0.0/17",
	"143.244.32.0/19",
	"146.70.0.0/16",
	"185.159.156.0/22",
	"185.230.124.0/22",
	"191.101.0.0/18",
	"193.29.104.0/22",
	"212.102.32.0/19",
}

func mustParsePrefixes(cidrs []string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		out = append(out, netip.MustParsePrefix(c))
	}
	return out
}
