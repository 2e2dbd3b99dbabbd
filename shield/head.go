package shield

import "net/http"

// HeadToGet serves HEAD requests through GET routes, so probes such as
// HEAD /healthz get a 200 instead of a 405. net/http drops the body.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}
