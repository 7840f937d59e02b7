package chat

import (
	"context"
	"sync"
	"time"

	"PetChat/logger"
	"PetChat/protocol"
	"PetChat/service/ai"
)

const aiJobTimeout = 90 * time.Second

type aiJob struct {
	userID string
	req    *protocol.AIAnalysisRequest
}

// aiPool runs AI analyses off the connection read loops on a bounded worker
// pool. A full queue drops the request; the requester just gets no results.
type aiPool struct {
	dispatcher *ai.Dispatcher
	server     *Server
	jobs       chan aiJob
	wg         sync.WaitGroup
}

func newAIPool(s *Server, dispatcher *ai.Dispatcher, workers, queue int) *aiPool {
	p := &aiPool{
		dispatcher: dispatcher,
		server:     s,
		jobs:       make(chan aiJob, queue),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *aiPool) submit(userID string, req *protocol.AIAnalysisRequest) {
	if p.dispatcher == nil {
		logger.Debugf("[AI] no dispatcher configured, dropping request from %s", userID)
		return
	}
	select {
	case p.jobs <- aiJob{userID: userID, req: req}:
	default:
		logger.Warnf("[AI] queue full, dropping request from %s", userID)
		p.server.metrics.AIDropped.Inc()
	}
}

func (p *aiPool) close() {
	close(p.jobs)
	p.wg.Wait()
}

func (p *aiPool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.process(job)
	}
}

// process runs the three analyses concurrently and delivers whichever
// succeed. Results go to whoever owns the user_id at delivery time; a user
// who disconnected mid-analysis is a silent drop.
func (p *aiPool) process(job aiJob) {
	ctx, cancel := context.WithTimeout(context.Background(), aiJobTimeout)
	defer cancel()

	msgs := job.req.ContextSnapshot
	convID := job.req.ConversationID

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		scores, err := p.dispatcher.AnalyzeEmotion(ctx, msgs)
		if err != nil {
			logger.Warnf("[AI] emotion analysis failed: %v", err)
			return
		}
		p.server.sendToUser(job.userID, &protocol.AIEmotion{
			Type:           protocol.KindAIEmotion,
			ConversationID: convID,
			Scores:         scores,
		})
	}()

	go func() {
		defer wg.Done()
		memories, err := p.dispatcher.ExtractMemories(ctx, msgs)
		if err != nil {
			logger.Warnf("[AI] memory extraction failed: %v", err)
			return
		}
		if len(memories) == 0 {
			return
		}
		if store := p.server.store; store != nil {
			for _, item := range memories {
				if err := store.SaveMemory(ctx, item); err != nil {
					logger.Warnf("[AI] persist memory failed: %v", err)
				}
			}
		}
		p.server.sendToUser(job.userID, &protocol.AIMemory{
			Type:           protocol.KindAIMemory,
			ConversationID: convID,
			Memories:       memories,
		})
	}()

	go func() {
		defer wg.Done()
		sug, err := p.dispatcher.GenerateSuggestion(ctx, msgs)
		if err != nil {
			logger.Warnf("[AI] suggestion failed: %v", err)
			return
		}
		if sug == nil {
			return
		}
		p.server.sendToUser(job.userID, &protocol.AISuggestion{
			Type:           protocol.KindAISuggestion,
			ConversationID: convID,
			Title:          sug.Title,
			Content:        sug.Content,
			SuggestionType: sug.Type,
		})
	}()

	wg.Wait()
}
