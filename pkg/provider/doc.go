// See provider.go. Every method takes its own bounded context and
// records call latency/outcome to pkg/metrics; ProviderUnavailable
// (transport errors, 5xx) retries via pkg/httpx, ProviderError (4xx)
// surfaces immediately as errs.InvalidState.
package provider
