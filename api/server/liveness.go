// liveness.go - Liveness probe logic for the HealthCoach node
package server

// NodeLiveness returns true if the ledger head can still be read from storage.
func (s *Server) NodeLiveness() bool {
	_, err := s.node.BlockAt(s.node.Height())
	return err == nil
}
