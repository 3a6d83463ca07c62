// readiness.go - Readiness probe logic for the HealthCoach node
package server

// NodeReadiness returns true if storage is readable and blocks are being
// produced, so submitted writes will be confirmed.
func (s *Server) NodeReadiness() bool {
	return s.node.Running() && s.NodeLiveness()
}
