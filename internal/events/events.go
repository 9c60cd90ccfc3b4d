// Package events 定义房间与推送给客户端的帧结构
package events

import (
	"time"
)

// RoomKind 房间类型
type RoomKind string

const (
	RoomChat  RoomKind = "chat"
	RoomMatch RoomKind = "match"
)

// Room 由 (类型, 群组码) 唯一确定
type Room struct {
	Kind RoomKind
	Code string
}

func ChatRoom(code string) Room  { return Room{Kind: RoomChat, Code: code} }
func MatchRoom(code string) Room { return Room{Kind: RoomMatch, Code: code} }

// String 形如 chat_ABC123 / match_ABC123
func (r Room) String() string {
	return string(r.Kind) + "_" + r.Code
}

// Publisher 向房间内所有连接广播，不阻塞
type Publisher interface {
	Publish(room Room, event any)
}

// 帧类型
const (
	TypeConnectionEstablished = "connection_established"
	TypeChatMessage           = "chat_message"
	TypeTyping                = "typing"
	TypeTypingIndicator       = "typing_indicator"
	TypePing                  = "ping"
	TypePong                  = "pong"
	TypeSwipe                 = "swipe"
	TypeSwipeResult           = "swipe_result"
	TypeMatchFound            = "match_found"
	TypeAllMembersFinished    = "all_members_finished"
	TypeError                 = "error"
)

// MatchFound 全员喜欢同一部电影
type MatchFound struct {
	Type        string    `json:"type"`
	MatchID     int64     `json:"match_id,string"`
	TMDBID      int64     `json:"tmdb_id"`
	MovieTitle  string    `json:"movie_title"`
	PosterURL   *string   `json:"poster_url"`
	Year        string    `json:"year"`
	Genres      []string  `json:"genres"`
	Overview    string    `json:"overview"`
	VoteAverage float64   `json:"vote_average"`
	MatchedAt   time.Time `json:"matched_at"`
	MatchedBy   []string  `json:"matched_by"`
	MemberCount int       `json:"member_count"`
	Message     string    `json:"message"`
}

// AllMembersFinished 本轮全员完成
type AllMembersFinished struct {
	Type               string `json:"type"`
	TotalMembers       int    `json:"total_members"`
	FinishedMembers    int    `json:"finished_members"`
	TotalMovies        int    `json:"total_movies"`
	CommonMatchesCount int64  `json:"common_matches_count"`
	Message            string `json:"message"`
}

// ChatMessage 群聊消息，系统消息的 UserID 为空
type ChatMessage struct {
	Type            string    `json:"type"`
	MessageID       int64     `json:"message_id,string"`
	Message         string    `json:"message"`
	UserID          *uint     `json:"user_id"`
	Username        string    `json:"username"`
	Timestamp       time.Time `json:"timestamp"`
	IsSystemMessage bool      `json:"is_system_message"`
}

type TypingIndicator struct {
	Type     string `json:"type"`
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

// ChatConnected 聊天房间连接成功
type ChatConnected struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
}

// MatchConnected 匹配房间连接成功
type MatchConnected struct {
	Type      string `json:"type"`
	GroupCode string `json:"group_code"`
	UserID    uint   `json:"user_id"`
	Username  string `json:"username"`
}

type Pong struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewError(message string) Error {
	return Error{Type: TypeError, Message: message}
}
