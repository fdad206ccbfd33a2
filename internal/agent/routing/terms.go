package routing

// defaultDomainTerms seeds the scorer's domain-specificity dimension when
// ScorerConfig.DomainTerms is empty. Callers with a specialized vocabulary
// should override this via RouterConfig.DomainTerms in YAML config.
var defaultDomainTerms = []string{
	"kubernetes", "terraform", "postgres", "grpc", "webassembly",
	"cryptography", "distributed", "consensus", "latency", "throughput",
}
