package service

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/sectiond/src/common"
	"github.com/mosaicnetworks/sectiond/src/node"
	"github.com/mosaicnetworks/sectiond/src/peers"
	"github.com/mosaicnetworks/sectiond/src/sections"
)

// Service serves the status of a node over HTTP.
type Service struct {
	sync.Mutex

	bindAddress string
	node        *node.Node
	mux         *http.ServeMux
	server      *http.Server
	logger      *logrus.Entry
}

// NewService ...
func NewService(bindAddress string, n *node.Node, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		node:        n,
		mux:         http.NewServeMux(),
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

// registerHandlers registers the API handlers with the service's own mux, so
// that several nodes can serve from one process.
func (s *Service) registerHandlers() {
	s.logger.Debug("Registering API handlers")
	s.mux.HandleFunc("/stats", s.makeHandler(s.GetStats))
	s.mux.HandleFunc("/knowledge", s.makeHandler(s.GetKnowledge))
	s.mux.HandleFunc("/members", s.makeHandler(s.GetMembers))
	s.mux.Handle("/metrics", promhttp.HandlerFor(s.node.Registry(), promhttp.HandlerOpts{}))
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Handler returns the service's routes, for embedding in another server.
func (s *Service) Handler() http.Handler {
	return s.mux
}

// Serve calls ListenAndServe. This is a blocking call.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving API")

	s.Lock()
	s.server = &http.Server{Addr: s.bindAddress, Handler: s.mux}
	server := s.server
	s.Unlock()

	err := server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		s.logger.Error(err)
	}
}

// Close stops the HTTP server started by Serve.
func (s *Service) Close() error {
	s.Lock()
	defer s.Unlock()
	if s.server == nil {
		return nil
	}
	return s.server.Close()
}

// GetStats ...
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.node.GetStats())
}

// GetKnowledge returns the sections the node knows of.
func (s *Service) GetKnowledge(w http.ResponseWriter, r *http.Request) {
	k, err := s.node.Knowledge()
	if err != nil {
		s.logger.WithError(err).Error("Retrieving knowledge")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if k == nil {
		http.Error(w, "no network knowledge yet", http.StatusServiceUnavailable)
		return
	}
	s.respond(w, NewKnowledgeView(k))
}

// GetMembers returns the joined members of the node's section.
func (s *Service) GetMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.node.Members()
	if err != nil {
		s.logger.WithError(err).Error("Retrieving members")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	res := make([]MemberView, len(members))
	for i, m := range members {
		res[i] = NewMemberView(m)
	}
	s.respond(w, res)
}

func (s *Service) respond(w http.ResponseWriter, v interface{}) {
	b, err := common.MarshalJSON(v)
	if err != nil {
		s.logger.WithError(err).Error("Encoding response")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(b)
}

// SAPView is a SAP as shown by the API.
type SAPView struct {
	Prefix        string
	SectionKey    string
	Elders        []MemberView
	MembershipGen uint64
}

// NewSAPView ...
func NewSAPView(sap sections.SectionSignedSAP) SAPView {
	v := SAPView{
		Prefix:        sap.Value.Prefix.String(),
		SectionKey:    sap.SectionKey().String(),
		MembershipGen: sap.Value.MembershipGen,
	}
	for _, e := range sap.Value.Elders {
		v.Elders = append(v.Elders, MemberView{Name: e.Name.String(), NetAddr: e.NetAddr})
	}
	return v
}

// KnowledgeView ...
type KnowledgeView struct {
	Name       string
	GenesisKey string
	SectionKey string
	Prefix     string
	ChainLen   uint64
	Sections   []SAPView
}

// NewKnowledgeView ...
func NewKnowledgeView(k *sections.NetworkKnowledge) KnowledgeView {
	v := KnowledgeView{
		Name:       k.Name().String(),
		GenesisKey: k.GenesisKey().String(),
		ChainLen:   k.SectionChainLen(),
	}
	if k.HasSection() {
		v.SectionKey = k.SectionKey().String()
		v.Prefix = k.Prefix().String()
	}
	for _, sap := range k.Tree().All() {
		v.Sections = append(v.Sections, NewSAPView(sap))
	}
	return v
}

// MemberView ...
type MemberView struct {
	Name    string
	NetAddr string
	Age     uint8  `json:",omitempty"`
	State   string `json:",omitempty"`
}

// NewMemberView ...
func NewMemberView(m peers.NodeState) MemberView {
	return MemberView{
		Name:    m.Name().String(),
		NetAddr: m.Peer.NetAddr,
		Age:     m.Age,
		State:   m.State.String(),
	}
}
