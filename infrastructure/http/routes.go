package http

import (
	"github.com/go-chi/chi/v5"

	"grndock/grpo"
	"grndock/multigrn"
)

// RegisterGRPORoutes registers the single-PO receipt workflow.
func (s *Server) RegisterGRPORoutes(r chi.Router) {
	r.Get("/grpo", grpo.ListDocumentsQueryHandler(s.DB))
	r.Post("/grpo", grpo.CreateDocumentCommandHandler(s.DB, s.ERP, s.Audit))
	r.Get("/grpo/{id}", grpo.GetDocumentQueryHandler(s.DB))
	r.Post("/grpo/{id}/submit", grpo.SubmitCommandHandler(s.DB, s.Audit))
	r.Post("/grpo/{id}/approve", grpo.ApproveCommandHandler(s.DB, s.ERP, s.Audit))
	r.Post("/grpo/{id}/reject", grpo.RejectCommandHandler(s.DB, s.Audit))
	r.Post("/grpo/{id}/post", grpo.RetryPostCommandHandler(s.DB, s.ERP, s.Audit))

	r.Post("/grpo/{id}/lines", grpo.AddLineCommandHandler(s.DB, s.ERP, s.Encoder, s.Audit))
	r.Delete("/grpo/lines/{lineID}", grpo.DeleteLineCommandHandler(s.DB, s.Audit))
	r.Get("/grpo/lines/{lineID}/serials", grpo.ListSerialsQueryHandler(s.DB))
	r.Post("/grpo/lines/{lineID}/serials", grpo.AddSerialCommandHandler(s.DB, s.Encoder, s.Audit))
	r.Delete("/grpo/serials/{serialID}", grpo.DeleteSerialCommandHandler(s.DB, s.Audit))
	r.Get("/grpo/lines/{lineID}/batches", grpo.ListBatchesQueryHandler(s.DB))
	r.Post("/grpo/lines/{lineID}/batches", grpo.AddBatchCommandHandler(s.DB, s.Encoder, s.Audit))
	r.Delete("/grpo/batches/{batchID}", grpo.DeleteBatchCommandHandler(s.DB, s.Audit))

	r.Get("/grpo/validate-item", grpo.ValidateItemQueryHandler(s.ERP))
	r.Get("/grpo/validate-serial", grpo.ValidateSerialQueryHandler(s.DB))
	r.Post("/grpo/labels", grpo.LabelSheetCommandHandler(s.Encoder))
}

// RegisterMultiGRNRoutes registers the multi-PO batch workflow.
func (s *Server) RegisterMultiGRNRoutes(r chi.Router) {
	r.Get("/multigrn", multigrn.ListBatchesQueryHandler(s.DB))
	r.Post("/multigrn", multigrn.CreateBatchCommandHandler(s.DB, s.Audit))
	r.Get("/multigrn/open-orders", multigrn.OpenOrdersQueryHandler(s.ERP))
	r.Get("/multigrn/{id}", multigrn.GetBatchQueryHandler(s.DB))
	r.Post("/multigrn/{id}/purchase-orders", multigrn.AttachPOsCommandHandler(s.DB, s.Audit))
	r.Post("/multigrn/{id}/links/{linkID}/lines", multigrn.SelectLinesCommandHandler(s.DB, s.ERP, s.Audit))
	r.Post("/multigrn/{id}/links/{linkID}/manual-items", multigrn.AddManualItemCommandHandler(s.DB, s.ERP, s.Audit))
	r.Put("/multigrn/{id}/selections/{selectionID}/allocations", multigrn.SetAllocationsCommandHandler(s.DB, s.Audit))
	r.Delete("/multigrn/{id}/selections/{selectionID}", multigrn.RemoveSelectionCommandHandler(s.DB, s.Audit))
	r.Post("/multigrn/{id}/post", multigrn.PostBatchCommandHandler(s.DB, s.ERP, s.Audit))
}
