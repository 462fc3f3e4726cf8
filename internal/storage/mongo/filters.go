package mongo

import (
	"time"

	"github.com/ageniuscoder/roomtalk/backend/internal/models"
	"go.mongodb.org/mongo-driver/bson"
)

// Update documents are built here so the narrow-update shape of each write
// can be checked without a server.

func directUpsert(c *models.Conversation) (filter, update bson.M) {
	return bson.M{"direct_key": c.DirectKey}, bson.M{"$setOnInsert": c}
}

func addParticipantUpdate(userID string, now time.Time) bson.M {
	return bson.M{
		"$addToSet": bson.M{"participants": userID},
		"$set":      bson.M{"updated_at": now},
	}
}

func removeParticipantUpdate(userID string, now time.Time) bson.M {
	return bson.M{
		"$pull": bson.M{"participants": userID},
		"$set":  bson.M{"updated_at": now},
	}
}

func lastMessageUpdate(m *models.Message) bson.M {
	return bson.M{"$set": bson.M{
		"last_message": m.Snapshot(),
		"updated_at":   m.CreatedAt,
	}}
}

func markReadUpdate(userID string) bson.M {
	return bson.M{"$addToSet": bson.M{"read_by": userID}}
}

func messagesFilter(conversationID string, before time.Time) bson.M {
	f := bson.M{"conversation_id": conversationID}
	if !before.IsZero() {
		f["created_at"] = bson.M{"$lt": before}
	}
	return f
}

func unreadFilter(conversationID, userID string) bson.M {
	return bson.M{
		"conversation_id": conversationID,
		"sender_id":       bson.M{"$ne": userID},
		"read_by":         bson.M{"$ne": userID},
	}
}

// Reaction toggle is three guarded single-document updates; whichever
// filter matches decides the branch.

func reactionRemoveStep(id, emoji, userID string) (filter, update bson.M) {
	filter = bson.M{
		"_id":       id,
		"reactions": bson.M{"$elemMatch": bson.M{"emoji": emoji, "users": userID}},
	}
	update = bson.M{"$pull": bson.M{"reactions.$.users": userID}}
	return filter, update
}

func reactionPruneStep(id, emoji string) (filter, update bson.M) {
	filter = bson.M{"_id": id}
	update = bson.M{"$pull": bson.M{"reactions": bson.M{"emoji": emoji, "users": bson.M{"$size": 0}}}}
	return filter, update
}

func reactionAddStep(id, emoji, userID string) (filter, update bson.M) {
	filter = bson.M{"_id": id, "reactions.emoji": emoji}
	update = bson.M{"$addToSet": bson.M{"reactions.$.users": userID}}
	return filter, update
}

func reactionInsertStep(id, emoji, userID string) (filter, update bson.M) {
	filter = bson.M{"_id": id, "reactions.emoji": bson.M{"$ne": emoji}}
	update = bson.M{"$push": bson.M{"reactions": models.Reaction{Emoji: emoji, Users: []string{userID}}}}
	return filter, update
}
