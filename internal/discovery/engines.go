// internal/discovery/engines.go
package discovery

import (
	"cmp"
	"net/url"
	"slices"
	"strings"
)

// Engine is a dark web search engine reachable through Tor.
type Engine struct {
	Name string `mapstructure:"name" yaml:"name"`
	// URLTemplate holds a {query} placeholder.
	URLTemplate string  `mapstructure:"url_template" yaml:"url_template"`
	Active      bool    `mapstructure:"active" yaml:"active"`
	Reliability float64 `mapstructure:"reliability" yaml:"reliability"`
}

// SearchURL fills the template with the query, form encoded.
func (e Engine) SearchURL(query string) string {
	return strings.ReplaceAll(e.URLTemplate, "{query}", url.QueryEscape(strings.TrimSpace(query)))
}

// Host returns the engine's own host so result pages can drop self links.
func (e Engine) Host() string {
	u, err := url.Parse(strings.ReplaceAll(e.URLTemplate, "{query}", ""))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

var defaultEngines = []Engine{
	{"Ahmia", "http://juhanurmihxlp77nkq76byazcldy2hlmovfu2epvl5ankdibsot4csyd.onion/search/?q={query}", true, 0.9},
	{"OnionLand", "http://3bbad7fauom4d6sgppalyqddsqbf5u5p56b5k5uk2zxsy3d6ey2jobad.onion/search?q={query}", true, 0.8},
	{"Torgle", "http://iy3544gmoeclh5de6gez2256v6pjh4omhpqdh2wpeeppjtvqmjhkfwad.onion/torgle/?query={query}", true, 0.7},
	{"Amnesia", "http://amnesia7u5odx5xbwtpnqk3edybgud5bmiagu75bnqx2crntw5kry7ad.onion/search?query={query}", true, 0.75},
	{"Kaizer", "http://kaizerwfvp5gxu6cppibp7jhcqptavq3iqef66wbxenh6a2fklibdvid.onion/search?q={query}", true, 0.7},
	{"Anima", "http://anima4ffe27xmakwnseih3ic2y7y3l6e7fucwk4oerdn4odf7k74tbid.onion/search?q={query}", true, 0.65},
	{"Tornado", "http://tornadoxn3viscgz647shlysdy7ea5zqzwda7hierekeuokh5eh5b3qd.onion/search?q={query}", true, 0.7},
	{"TorNet", "http://tornetupfu7gcgidt33ftnungxzyfq2pygui5qdoyss34xbgx2qruzid.onion/search?q={query}", true, 0.65},
	{"Torland", "http://torlbmqwtudkorme6prgfpmsnile7ug2zm4u3ejpcncxuhpu4k2j4kyd.onion/index.php?a=search&q={query}", true, 0.6},
	{"FindTor", "http://findtorroveq5wdnipkaojfpqulxnkhblymc7aramjzajcvpptd4rjqd.onion/search?q={query}", true, 0.7},
	{"Excavator", "http://2fd6cemt4gmccflhm6imvdfvli3nf7zn6rfrwpsy7uhxrgbypvwf5fad.onion/search?query={query}", true, 0.65},
	{"Onionway", "http://oniwayzz74cv2puhsgx4dpjwieww4wdphsydqvf5q7eyz4myjvyw26ad.onion/search.php?s={query}", true, 0.6},
	{"Tor66", "http://tor66sewebgixwhcqfnp5inzp5x5uohhdy3kvtnyfxc2e5mxiuh34iid.onion/search?q={query}", true, 0.75},
	{"OSS", "http://3fzh7yuupdfyjhwt3ugzqqof6ulbcl27ecev33knxe3u7goi3vfn2qqd.onion/oss/index.php?search={query}", true, 0.5},
	{"Torgol", "http://torgolnpeouim56dykfob6jh5r2ps2j73enc42s2um4ufob3ny4fcdyd.onion/?q={query}", true, 0.6},
	{"TheDeepSearches", "http://searchgf7gdtauh7bhnbyed4ivxqmuoat3nm6zfrg3ymkq6mtnpye3ad.onion/search?q={query}", true, 0.7},
}

// DefaultEngines returns a copy of the built-in engine list.
func DefaultEngines() []Engine {
	return slices.Clone(defaultEngines)
}

// ActiveByReliability keeps active engines, most reliable first.
func ActiveByReliability(engines []Engine) []Engine {
	out := make([]Engine, 0, len(engines))
	for _, e := range engines {
		if e.Active {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b Engine) int { return cmp.Compare(b.Reliability, a.Reliability) })
	return out
}

// Shard deals engines round-robin across n crawlers and returns the slice
// for crawler i. Each engine goes to `replicas` consecutive crawlers so
// results from one engine can be corroborated by a second crawler. With
// fewer engines than crawlers every crawler gets the full list.
func Shard(engines []Engine, i, n, replicas int) []Engine {
	if n <= 1 || len(engines) < n || replicas >= n {
		return slices.Clone(engines)
	}
	replicas = max(replicas, 1)
	var out []Engine
	for idx, e := range engines {
		if (i-idx%n+n)%n < replicas {
			out = append(out, e)
		}
	}
	return out
}
